package interfaces

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/models"
)

type AccountRepository interface {
	// GetSyncable returns accounts in a state the coordinator may assign.
	GetSyncable(ctx context.Context) ([]*models.Account, error)
	// GetAssigned returns syncable accounts currently assigned to a worker.
	GetAssigned(ctx context.Context, workerID string) ([]*models.Account, error)
	Save(ctx context.Context, account *models.Account) error
	UpdateStatus(ctx context.Context, id string, status enum.AccountStatus, lastError string) error
	MarkSynced(ctx context.Context, id string) error
	// Assign moves the account to a worker (nil = unassign) and stamps the
	// lease generation the assignment was made under.
	Assign(ctx context.Context, accountID string, workerID *string, generation int64) error
	// UnassignWorker clears every assignment pointing at a dead worker.
	UnassignWorker(ctx context.Context, workerID string) (int64, error)
}

type FolderRepository interface {
	GetByAccount(ctx context.Context, accountID string) ([]*models.Folder, error)
	GetOrCreate(ctx context.Context, accountID, name string) (*models.Folder, error)
	Save(ctx context.Context, folder *models.Folder) error
	// SaveTx persists folder anchors inside an index transaction.
	SaveTx(tx *gorm.DB, folder *models.Folder) error
}

type MessageRepository interface {
	// IndexBatch upserts entries and invokes enqueue with the subset that
	// was newly inserted, inside one transaction. Re-running a batch after
	// a crash therefore re-emits nothing for already indexed UIDs.
	IndexBatch(ctx context.Context, entries []*models.MessageIndexEntry, enqueue func(tx *gorm.DB, inserted []*models.MessageIndexEntry) error) ([]*models.MessageIndexEntry, error)
	GetByUIDs(ctx context.Context, accountID, folderID string, uids []uint32) ([]*models.MessageIndexEntry, error)
	// ListUIDs returns live (non-tombstoned) UIDs in [fromUID, toUID].
	ListUIDs(ctx context.Context, accountID, folderID string, fromUID, toUID uint32) ([]uint32, error)
	UpdateFlags(ctx context.Context, entry *models.MessageIndexEntry, flags []string, enqueue func(tx *gorm.DB) error) error
	// MarkExpunged tombstones UIDs the server no longer reports.
	MarkExpunged(ctx context.Context, accountID, folderID string, uids []uint32, enqueue func(tx *gorm.DB) error) error
	// PurgeFolder drops the whole local index for a folder (UIDVALIDITY
	// change); no per-message events are emitted for the purge.
	PurgeFolder(ctx context.Context, accountID, folderID string, enqueue func(tx *gorm.DB) error) error
	// PruneTombstones deletes expunged rows older than the cutoff.
	PruneTombstones(ctx context.Context, before time.Time) (int64, error)
}

type SubscriptionRepository interface {
	GetByID(ctx context.Context, id string) (*models.WebhookSubscription, error)
	GetEnabledForApplication(ctx context.Context, applicationID string) ([]*models.WebhookSubscription, error)
}

type DeliveryRepository interface {
	// CreateTx enqueues deliveries inside the caller's transaction.
	CreateTx(tx *gorm.DB, deliveries []*models.WebhookDelivery) error
	Create(ctx context.Context, deliveries []*models.WebhookDelivery) error
	// FindDue returns, per (account, subscription) pair, the earliest
	// non-terminal delivery, restricted to pairs whose head is due. Later
	// events for a pair are held until the head reaches a terminal state.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error)
	// Claim atomically moves a pending delivery to in_flight. False means
	// another dispatcher won the race; the caller must not post it.
	Claim(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, delivery *models.WebhookDelivery) error
	// ResetStuckInFlight returns crashed-dispatcher claims to pending.
	ResetStuckInFlight(ctx context.Context, olderThan time.Duration) (int64, error)
	CountByStatus(ctx context.Context) (map[enum.DeliveryStatus]int64, error)
}

type LeaseRepository interface {
	Heartbeat(ctx context.Context, workerID string) error
	Get(ctx context.Context, workerID string) (*models.WorkerLease, error)
	// GetLive returns leases whose heartbeat is within deadAfter.
	GetLive(ctx context.Context, deadAfter time.Duration) ([]*models.WorkerLease, error)
	GetAll(ctx context.Context) ([]*models.WorkerLease, error)
	BumpGeneration(ctx context.Context, workerID string) (int64, error)
	Delete(ctx context.Context, workerID string) error
	// SweepDead removes leases that stopped heartbeating.
	SweepDead(ctx context.Context, deadAfter time.Duration) (int64, error)
	TryAcquireLeadership(ctx context.Context, workerID string, ttl time.Duration) (bool, error)
	ReleaseLeadership(ctx context.Context, workerID string) error
}
