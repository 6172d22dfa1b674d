package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

// Enqueuer fans sync observations out into webhook_deliveries rows, one per
// matching subscription. The payload is composed and frozen here; the
// dispatcher posts it verbatim later.
type Enqueuer struct {
	subscriptions interfaces.SubscriptionRepository
	deliveries    interfaces.DeliveryRepository
	log           logger.Logger
}

func NewEnqueuer(subscriptions interfaces.SubscriptionRepository, deliveries interfaces.DeliveryRepository, log logger.Logger) *Enqueuer {
	return &Enqueuer{
		subscriptions: subscriptions,
		deliveries:    deliveries,
		log:           log,
	}
}

// eventEnvelope is the wire shape of every webhook payload. The delivery id
// is minted here so the envelope and its row carry the same id.
type eventEnvelope struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	CreatedAt     int64       `json:"created_at"`
	ApplicationID string      `json:"application_id"`
	GrantID       string      `json:"grant_id"`
	AccountID     string      `json:"account_id"`
	Object        interface{} `json:"object"`
}

type messageData struct {
	Folder       string    `json:"folder"`
	UID          uint32    `json:"uid"`
	MessageID    string    `json:"messageId,omitempty"`
	ThreadID     string    `json:"threadId,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	From         []string  `json:"from,omitempty"`
	To           []string  `json:"to,omitempty"`
	Cc           []string  `json:"cc,omitempty"`
	Bcc          []string  `json:"bcc,omitempty"`
	InternalDate time.Time `json:"internalDate"`
	Size         uint32    `json:"size"`
	Flags        []string  `json:"flags"`
}

type folderData struct {
	Folder      string `json:"folder"`
	SyncState   string `json:"syncState"`
	UIDValidity uint32 `json:"uidValidity"`
	Total       uint32 `json:"total"`
	// Why the folder changed: uidvalidity_change, deleted, backfill_complete.
	Reason string `json:"reason,omitempty"`
}

type accountData struct {
	EmailAddress string `json:"emailAddress"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

func messagePayloadData(folder *models.Folder, entry *models.MessageIndexEntry, flags []string) messageData {
	return messageData{
		Folder:       folder.Name,
		UID:          entry.UID,
		MessageID:    entry.MessageID,
		ThreadID:     entry.ThreadID,
		Subject:      entry.Subject,
		From:         entry.FromAddrs,
		To:           entry.ToAddrs,
		Cc:           entry.CcAddrs,
		Bcc:          entry.BccAddrs,
		InternalDate: entry.InternalDate,
		Size:         entry.Size,
		Flags:        flags,
	}
}

// enqueueTx writes one delivery row per subscription carrying the trigger.
// Uses the transaction's context so cancellation propagates.
func (e *Enqueuer) enqueueTx(tx *gorm.DB, account *models.Account, kind enum.TriggerKind, data interface{}) error {
	ctx := context.Background()
	if tx != nil && tx.Statement != nil && tx.Statement.Context != nil {
		ctx = tx.Statement.Context
	}

	subs, err := e.subscriptions.GetEnabledForApplication(ctx, account.ApplicationID)
	if err != nil {
		return err
	}

	var deliveries []*models.WebhookDelivery
	for _, sub := range subs {
		if !sub.Subscribed(kind) {
			continue
		}
		deliveryID := utils.NewDeliveryID()
		payload, err := json.Marshal(eventEnvelope{
			ID:            deliveryID,
			Type:          kind.String(),
			CreatedAt:     utils.Now().Unix(),
			ApplicationID: account.ApplicationID,
			GrantID:       account.GrantID,
			AccountID:     account.ID,
			Object:        data,
		})
		if err != nil {
			return errors.Wrap(err, "failed to marshal event payload")
		}
		deliveries = append(deliveries, &models.WebhookDelivery{
			ID:             deliveryID,
			SubscriptionID: sub.ID,
			AccountID:      account.ID,
			ApplicationID:  account.ApplicationID,
			TriggerKind:    kind,
			Payload:        string(payload),
			Status:         enum.DeliveryPending,
			NextAttemptAt:  utils.Now(),
		})
	}
	if len(deliveries) == 0 {
		return nil
	}

	if tx != nil {
		return e.deliveries.CreateTx(tx, deliveries)
	}
	return e.deliveries.Create(ctx, deliveries)
}

func (e *Enqueuer) MessagesCreatedTx(tx *gorm.DB, account *models.Account, folder *models.Folder, entries []*models.MessageIndexEntry) error {
	for _, entry := range entries {
		if err := e.enqueueTx(tx, account, enum.TriggerMessageCreated, messagePayloadData(folder, entry, entry.Flags)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Enqueuer) MessageUpdatedTx(tx *gorm.DB, account *models.Account, folder *models.Folder, entry *models.MessageIndexEntry, flags []string) error {
	return e.enqueueTx(tx, account, enum.TriggerMessageUpdated, messagePayloadData(folder, entry, flags))
}

func (e *Enqueuer) MessagesDeletedTx(tx *gorm.DB, account *models.Account, folder *models.Folder, entries []*models.MessageIndexEntry) error {
	for _, entry := range entries {
		if err := e.enqueueTx(tx, account, enum.TriggerMessageDeleted, messagePayloadData(folder, entry, entry.Flags)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Enqueuer) FolderUpdatedTx(tx *gorm.DB, account *models.Account, folder *models.Folder, reason string) error {
	return e.enqueueTx(tx, account, enum.TriggerFolderUpdated, folderData{
		Folder:      folder.Name,
		SyncState:   folder.SyncState.String(),
		UIDValidity: folder.UIDValidity,
		Total:       folder.LastExists,
		Reason:      reason,
	})
}

func (e *Enqueuer) AccountConnected(ctx context.Context, account *models.Account) error {
	return e.enqueueTx(nil, account, enum.TriggerAccountConnected, accountData{
		EmailAddress: account.EmailAddress,
		Status:       enum.AccountActive.String(),
	})
}

func (e *Enqueuer) AccountInvalidCredentials(ctx context.Context, account *models.Account) error {
	return e.enqueueTx(nil, account, enum.TriggerAccountInvalidCreds, accountData{
		EmailAddress: account.EmailAddress,
		Status:       enum.AccountAuthError.String(),
		Reason:       account.LastError,
	})
}
