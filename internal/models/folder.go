package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

// Folder tracks the server-reported sync anchors for one mailbox folder.
type Folder struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string `gorm:"column:account_id;type:varchar(50);uniqueIndex:uq_folder_account_name;not null"`
	Name      string `gorm:"column:name;type:varchar(255);uniqueIndex:uq_folder_account_name;not null"`
	// IMAP anchors from the last successful dialogue
	UIDValidity   uint32  `gorm:"column:uid_validity;not null;default:0"`
	UIDNext       uint32  `gorm:"column:uid_next;not null;default:0"`
	HighestModSeq *uint64 `gorm:"column:highest_modseq"` // nil when CONDSTORE is unavailable
	LastExists    uint32  `gorm:"column:last_exists;not null;default:0"`
	// Highest contiguously indexed UID
	LastUID uint32 `gorm:"column:last_uid;not null;default:0"`
	// Descending backfill resume cursor: lowest UID fetched so far, 0 = untouched
	BackfillCursor uint32 `gorm:"column:backfill_cursor;not null;default:0"`
	// Local machine state
	SyncState  enum.FolderSyncState `gorm:"column:sync_state;type:varchar(20);index;not null;default:new"`
	LastPoll   *time.Time           `gorm:"column:last_poll;type:timestamp"`
	LastError  string               `gorm:"column:last_error;type:text"`
	FailStreak int                  `gorm:"column:fail_streak;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (Folder) TableName() string {
	return "folders"
}

func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = utils.NewFolderID()
	}
	return nil
}
