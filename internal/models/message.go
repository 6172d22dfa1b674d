package models

import (
	"time"

	"github.com/lib/pq"
)

// MessageIndexEntry is header metadata for one message; bodies are never
// persisted. A row with Expunged set is the tombstone for a UID the server
// no longer reports.
type MessageIndexEntry struct {
	ID        string `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID string `gorm:"column:account_id;type:varchar(50);uniqueIndex:uq_message_account_folder_uid;not null"`
	FolderID  string `gorm:"column:folder_id;type:varchar(50);uniqueIndex:uq_message_account_folder_uid;not null"`
	UID       uint32 `gorm:"column:uid;uniqueIndex:uq_message_account_folder_uid;not null"`

	InternalDate time.Time      `gorm:"column:internal_date;type:timestamp"`
	Subject      string         `gorm:"column:subject;type:text"`
	FromAddrs    pq.StringArray `gorm:"column:from_addrs;type:text[]"`
	ToAddrs      pq.StringArray `gorm:"column:to_addrs;type:text[]"`
	CcAddrs      pq.StringArray `gorm:"column:cc_addrs;type:text[]"`
	BccAddrs     pq.StringArray `gorm:"column:bcc_addrs;type:text[]"`
	MessageID    string         `gorm:"column:message_id;type:text;index"`
	InReplyTo    string         `gorm:"column:in_reply_to;type:text"`
	References   string         `gorm:"column:references_header;type:text"`
	Size         uint32         `gorm:"column:size;not null;default:0"`
	Flags        pq.StringArray `gorm:"column:flags;type:text[]"`
	ThreadID     string         `gorm:"column:thread_id;type:varchar(50);index"`

	FirstSeen  time.Time  `gorm:"column:first_seen;type:timestamp;default:current_timestamp"`
	Expunged   bool       `gorm:"column:expunged;not null;default:false"`
	ExpungedAt *time.Time `gorm:"column:expunged_at;type:timestamp"`
}

func (MessageIndexEntry) TableName() string {
	return "message_index_entries"
}
