package interfaces

import (
	"context"

	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/internal/models"
)

// Reasons carried by folder.updated payloads so consumers can tell a purge
// from a routine transition.
const (
	FolderReasonUIDValidityChange = "uidvalidity_change"
	FolderReasonDeleted           = "deleted"
	FolderReasonBackfillComplete  = "backfill_complete"
)

// EventSink turns sync observations into durable webhook deliveries. The Tx
// variants enqueue inside the caller's index transaction so an event exists
// if and only if the index change committed.
type EventSink interface {
	MessagesCreatedTx(tx *gorm.DB, account *models.Account, folder *models.Folder, entries []*models.MessageIndexEntry) error
	MessageUpdatedTx(tx *gorm.DB, account *models.Account, folder *models.Folder, entry *models.MessageIndexEntry, flags []string) error
	MessagesDeletedTx(tx *gorm.DB, account *models.Account, folder *models.Folder, entries []*models.MessageIndexEntry) error
	FolderUpdatedTx(tx *gorm.DB, account *models.Account, folder *models.Folder, reason string) error
	AccountConnected(ctx context.Context, account *models.Account) error
	AccountInvalidCredentials(ctx context.Context, account *models.Account) error
}

// AlertPublisher pushes operational alerts onto the message bus.
type AlertPublisher interface {
	PublishDeadLetter(ctx context.Context, delivery *models.WebhookDelivery, reason string) error
}
