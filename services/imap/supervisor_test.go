package imap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	er "github.com/mailwatchhq/mailwatch/internal/errors"
	"github.com/mailwatchhq/mailwatch/internal/models"
)

func TestSortFolderNames(t *testing.T) {
	names := []string{"Sent", "Archive", "inbox", "Drafts"}
	sortFolderNames(names)
	assert.Equal(t, []string{"inbox", "Archive", "Drafts", "Sent"}, names)
}

type multiFolderRepo struct {
	mu      sync.Mutex
	folders map[string]*models.Folder
}

func newMultiFolderRepo(folders ...*models.Folder) *multiFolderRepo {
	r := &multiFolderRepo{folders: make(map[string]*models.Folder)}
	for _, f := range folders {
		r.folders[f.Name] = f
	}
	return r
}

func (r *multiFolderRepo) GetByAccount(ctx context.Context, accountID string) ([]*models.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Folder
	for _, f := range r.folders {
		out = append(out, f)
	}
	return out, nil
}

func (r *multiFolderRepo) GetOrCreate(ctx context.Context, accountID, name string) (*models.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.folders[name]; ok {
		return f, nil
	}
	f := &models.Folder{ID: "fld_" + name, AccountID: accountID, Name: name, SyncState: enum.FolderNew}
	r.folders[name] = f
	return f, nil
}

func (r *multiFolderRepo) Save(ctx context.Context, folder *models.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folders[folder.Name] = folder
	return nil
}

func (r *multiFolderRepo) SaveTx(tx *gorm.DB, folder *models.Folder) error {
	return r.Save(context.Background(), folder)
}

type listingSession struct {
	scriptedSession
	folderNames []string
}

func (s *listingSession) ListFolders(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.folderNames...), nil
}

func newSupervisorFixture(folderRepo *multiFolderRepo, session *listingSession, maxFolders int) *Supervisor {
	account := &models.Account{ID: "acct_1", GrantID: "grant_1", ApplicationID: "app_1", Status: enum.AccountActive}
	return NewSupervisor(
		account,
		singleSessionPool{session: session},
		nil,
		folderRepo,
		newFakeMessageRepo(),
		&fakeEventSink{},
		&config.SyncConfig{BatchSize: 2, MaxFoldersPerAccount: maxFolders, StartStagger: time.Millisecond},
		&config.IMAPConfig{PollInterval: time.Millisecond},
		testLogger(),
	)
}

func TestSupervisor_DiscoverCreatesAndCaps(t *testing.T) {
	session := &listingSession{folderNames: []string{"Sent", "Archive", "INBOX", "Spam"}}
	repo := newMultiFolderRepo()
	supervisor := newSupervisorFixture(repo, session, 3)

	folders, err := supervisor.discoverFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, folders, 3)
	// INBOX survives the cap and comes first.
	assert.Equal(t, "INBOX", folders[0].Name)
	assert.Equal(t, "Archive", folders[1].Name)
	assert.Equal(t, "Sent", folders[2].Name)
}

func TestSupervisor_DiscoverOrphansMissingFolders(t *testing.T) {
	stale := &models.Folder{ID: "fld_old", AccountID: "acct_1", Name: "OldProject", SyncState: enum.FolderLive}
	repo := newMultiFolderRepo(stale)
	session := &listingSession{folderNames: []string{"INBOX"}}
	supervisor := newSupervisorFixture(repo, session, 0)

	folders, err := supervisor.discoverFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "INBOX", folders[0].Name)
	assert.Equal(t, enum.FolderOrphaned, stale.SyncState)
}

func TestSupervisor_DiscoverRevivesReappearedFolder(t *testing.T) {
	orphaned := &models.Folder{ID: "fld_x", AccountID: "acct_1", Name: "INBOX", SyncState: enum.FolderOrphaned}
	repo := newMultiFolderRepo(orphaned)
	session := &listingSession{folderNames: []string{"INBOX"}}
	supervisor := newSupervisorFixture(repo, session, 0)

	folders, err := supervisor.discoverFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, enum.FolderNew, folders[0].SyncState)
}

// fakeAccountStore records the status and last-sync writes the supervisor
// makes.
type fakeAccountStore struct {
	mu         sync.Mutex
	statuses   map[string]enum.AccountStatus
	markSynced int
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{statuses: make(map[string]enum.AccountStatus)}
}

func (r *fakeAccountStore) GetSyncable(ctx context.Context) ([]*models.Account, error) {
	return nil, nil
}
func (r *fakeAccountStore) GetAssigned(ctx context.Context, workerID string) ([]*models.Account, error) {
	return nil, nil
}
func (r *fakeAccountStore) Save(ctx context.Context, account *models.Account) error { return nil }
func (r *fakeAccountStore) UpdateStatus(ctx context.Context, id string, status enum.AccountStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	return nil
}
func (r *fakeAccountStore) MarkSynced(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markSynced++
	return nil
}
func (r *fakeAccountStore) Assign(ctx context.Context, accountID string, workerID *string, generation int64) error {
	return nil
}
func (r *fakeAccountStore) UnassignWorker(ctx context.Context, workerID string) (int64, error) {
	return 0, nil
}

func (r *fakeAccountStore) statusOf(id string) enum.AccountStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

func (r *fakeAccountStore) markSyncedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markSynced
}

// flakyPool fails the first borrows, then serves the wrapped session.
type flakyPool struct {
	singleSessionPool
	mu        sync.Mutex
	borrows   int
	failures  int
	borrowErr error
}

func (p *flakyPool) Borrow(ctx context.Context, account *models.Account) (interfaces.IMAPSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.borrows++
	if p.failures > 0 {
		p.failures--
		return nil, p.borrowErr
	}
	return p.session, nil
}

func (p *flakyPool) borrowCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.borrows
}

func retryingSupervisor(account *models.Account, pool interfaces.SessionPool, accounts *fakeAccountStore, events *fakeEventSink) *Supervisor {
	return NewSupervisor(
		account,
		pool,
		accounts,
		newMultiFolderRepo(),
		newFakeMessageRepo(),
		events,
		&config.SyncConfig{BatchSize: 2, StartStagger: time.Millisecond, RetryBackoffBase: time.Millisecond, RetryBackoffMax: 5 * time.Millisecond},
		&config.IMAPConfig{PollInterval: time.Millisecond},
		testLogger(),
	)
}

func TestSupervisor_RetriesDiscoveryAfterTransientError(t *testing.T) {
	session := &listingSession{folderNames: []string{"INBOX"}}
	pool := &flakyPool{
		singleSessionPool: singleSessionPool{session: session},
		failures:          2,
		borrowErr:         er.ErrConnectionTimeout,
	}
	account := &models.Account{ID: "acct_1", ApplicationID: "app_1", Status: enum.AccountActive}
	supervisor := retryingSupervisor(account, pool, newFakeAccountStore(), &fakeEventSink{})

	folders, ok := supervisor.discoverWithRetry(context.Background())
	require.True(t, ok)
	require.Len(t, folders, 1)
	// Two failed dials plus the one that succeeded.
	assert.Equal(t, 3, pool.borrowCount())
}

func TestSupervisor_AuthFailureDuringDiscoveryQuiesces(t *testing.T) {
	pool := &flakyPool{failures: 1, borrowErr: er.ErrAuthenticationFailed}
	account := &models.Account{ID: "acct_1", ApplicationID: "app_1", Status: enum.AccountActive}
	accounts := newFakeAccountStore()
	events := &fakeEventSink{}
	supervisor := retryingSupervisor(account, pool, accounts, events)

	_, ok := supervisor.discoverWithRetry(context.Background())
	assert.False(t, ok)
	assert.Equal(t, enum.AccountAuthError, accounts.statusOf("acct_1"))
	assert.Len(t, events.ofKind(enum.TriggerAccountInvalidCreds), 1)
}

func TestSupervisor_ConnectedEventOnlyBeforeFirstSync(t *testing.T) {
	session := &listingSession{folderNames: []string{"INBOX"}}
	accounts := newFakeAccountStore()
	account := &models.Account{ID: "acct_1", ApplicationID: "app_1", Status: enum.AccountActive}

	runOnce := func(events *fakeEventSink) {
		supervisor := retryingSupervisor(account, singleSessionPool{session: session}, accounts, events)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		supervisor.Start(ctx)
		<-supervisor.Done()
	}

	events := &fakeEventSink{}
	runOnce(events)
	assert.Len(t, events.ofKind(enum.TriggerAccountConnected), 1)
	assert.Equal(t, 1, accounts.markSyncedCount())
	require.NotNil(t, account.LastSync)

	// A rebalance hands the account to a fresh supervisor; the last-sync
	// stamp keeps the event from firing again.
	later := &fakeEventSink{}
	runOnce(later)
	assert.Empty(t, later.ofKind(enum.TriggerAccountConnected))
}
