package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

type Account struct {
	ID      string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	GrantID string `gorm:"column:grant_id;type:varchar(50);uniqueIndex;not null" json:"grantId"`
	// Owning tenant application
	ApplicationID string `gorm:"column:application_id;type:varchar(50);index;not null" json:"applicationId"`
	EmailAddress  string `gorm:"column:email_address;type:varchar(255);index" json:"emailAddress"`
	// IMAP server coordinates
	ImapServer   string             `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort     int                `gorm:"column:imap_port;not null" json:"imapPort"`
	ImapUsername string             `gorm:"column:imap_username;type:varchar(255);not null" json:"imapUsername"`
	ImapSecurity enum.EmailSecurity `gorm:"column:imap_security;type:varchar(20);not null;default:tls" json:"imapSecurity"`
	// SMTP coordinates are provisioned alongside but unused by the sync engine
	SmtpServer string `gorm:"column:smtp_server;type:varchar(255)" json:"smtpServer"`
	SmtpPort   int    `gorm:"column:smtp_port" json:"smtpPort"`
	// Opaque credential reference, resolved through the credential provider
	CredentialRef string `gorm:"column:credential_ref;type:text;not null" json:"-"`
	// Lifecycle
	Status    enum.AccountStatus `gorm:"column:status;type:varchar(20);index;not null;default:provisioning" json:"status"`
	LastSync  *time.Time         `gorm:"column:last_sync;type:timestamp" json:"lastSync"`
	LastError string             `gorm:"column:last_error;type:text" json:"lastError"`
	// Backfill horizon: most recent N messages per folder, 0 = full history
	BackfillLimit int `gorm:"column:backfill_limit;not null;default:0" json:"backfillLimit"`
	// Work distribution
	AssignedWorkerID *string `gorm:"column:assigned_worker_id;type:varchar(100);index" json:"assignedWorkerId"`
	LeaseGeneration  int64   `gorm:"column:lease_generation;not null;default:0" json:"leaseGeneration"`
	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.NewAccountID()
	}
	if a.GrantID == "" {
		a.GrantID = utils.NewGrantID()
	}
	return nil
}
