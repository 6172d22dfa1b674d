package webhook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

func enqueuerFixtures() (*Enqueuer, *fakeDeliveryRepo, *models.Account, *models.Folder) {
	subs := newFakeSubscriptionRepo(
		&models.WebhookSubscription{
			ID: "sub_all", ApplicationID: "app_1", TargetURL: "http://example.test/a",
			SigningSecret: "s1", Enabled: true,
			Triggers: []string{"message.created", "message.updated", "message.deleted", "folder.updated", "account.invalid_credentials"},
		},
		&models.WebhookSubscription{
			ID: "sub_created_only", ApplicationID: "app_1", TargetURL: "http://example.test/b",
			SigningSecret: "s2", Enabled: true,
			Triggers: []string{"message.created"},
		},
		&models.WebhookSubscription{
			ID: "sub_other_app", ApplicationID: "app_2", TargetURL: "http://example.test/c",
			SigningSecret: "s3", Enabled: true,
			Triggers: []string{"message.created"},
		},
	)
	deliveries := newFakeDeliveryRepo()
	account := &models.Account{ID: "acct_1", GrantID: "grant_1", ApplicationID: "app_1", EmailAddress: "user@example.com"}
	folder := &models.Folder{ID: "fld_1", AccountID: account.ID, Name: "INBOX", SyncState: enum.FolderLive}
	return NewEnqueuer(subs, deliveries, testLogger()), deliveries, account, folder
}

func TestEnqueuer_FansOutPerMatchingSubscription(t *testing.T) {
	enqueuer, deliveries, account, folder := enqueuerFixtures()

	entry := &models.MessageIndexEntry{
		AccountID: account.ID, FolderID: folder.ID, UID: 42,
		Subject: "hello", MessageID: "<m1@example.com>", ThreadID: "thr_abc",
		FromAddrs: []string{"a@example.com"}, Flags: []string{"\\Seen"},
		InternalDate: utils.Now(),
	}
	require.NoError(t, enqueuer.MessagesCreatedTx(nil, account, folder, []*models.MessageIndexEntry{entry}))

	counts, err := deliveries.CountByStatus(context.Background())
	require.NoError(t, err)
	// Both app_1 subscriptions match message.created; app_2 does not.
	assert.Equal(t, int64(2), counts[enum.DeliveryPending])
}

func TestEnqueuer_SkipsUnsubscribedTriggers(t *testing.T) {
	enqueuer, deliveries, account, folder := enqueuerFixtures()

	require.NoError(t, enqueuer.FolderUpdatedTx(nil, account, folder, interfaces.FolderReasonBackfillComplete))

	counts, err := deliveries.CountByStatus(context.Background())
	require.NoError(t, err)
	// Only sub_all carries folder.updated.
	assert.Equal(t, int64(1), counts[enum.DeliveryPending])
}

func TestEnqueuer_PayloadShape(t *testing.T) {
	enqueuer, deliveries, account, folder := enqueuerFixtures()

	entry := &models.MessageIndexEntry{
		AccountID: account.ID, FolderID: folder.ID, UID: 7,
		Subject: "quarterly report", MessageID: "<q@example.com>", ThreadID: "thr_q",
		InternalDate: utils.Now(),
	}
	require.NoError(t, enqueuer.MessageUpdatedTx(nil, account, folder, entry, []string{"\\Seen", "\\Flagged"}))

	due, err := deliveries.FindDue(context.Background(), utils.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	var envelope struct {
		ID            string `json:"id"`
		Type          string `json:"type"`
		CreatedAt     int64  `json:"created_at"`
		ApplicationID string `json:"application_id"`
		GrantID       string `json:"grant_id"`
		AccountID     string `json:"account_id"`
		Object        struct {
			Folder string   `json:"folder"`
			UID    uint32   `json:"uid"`
			Flags  []string `json:"flags"`
		} `json:"object"`
	}
	require.NoError(t, json.Unmarshal([]byte(due[0].Payload), &envelope))
	// The envelope carries the id of the delivery row it rides in.
	assert.Equal(t, due[0].ID, envelope.ID)
	assert.Equal(t, "message.updated", envelope.Type)
	assert.Greater(t, envelope.CreatedAt, int64(0))
	assert.Equal(t, "app_1", envelope.ApplicationID)
	assert.Equal(t, "grant_1", envelope.GrantID)
	assert.Equal(t, "acct_1", envelope.AccountID)
	assert.Equal(t, "INBOX", envelope.Object.Folder)
	assert.Equal(t, uint32(7), envelope.Object.UID)
	assert.Equal(t, []string{"\\Seen", "\\Flagged"}, envelope.Object.Flags)
}

func TestEnqueuer_FolderUpdatedCarriesReason(t *testing.T) {
	enqueuer, deliveries, account, folder := enqueuerFixtures()

	require.NoError(t, enqueuer.FolderUpdatedTx(nil, account, folder, interfaces.FolderReasonUIDValidityChange))

	due, err := deliveries.FindDue(context.Background(), utils.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Contains(t, due[0].Payload, `"reason":"uidvalidity_change"`)
}

func TestEnqueuer_AccountInvalidCredentials(t *testing.T) {
	enqueuer, deliveries, account, _ := enqueuerFixtures()
	account.LastError = "LOGIN failed"

	require.NoError(t, enqueuer.AccountInvalidCredentials(context.Background(), account))

	due, err := deliveries.FindDue(context.Background(), utils.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, enum.TriggerAccountInvalidCreds, due[0].TriggerKind)
	assert.Contains(t, due[0].Payload, "LOGIN failed")
}
