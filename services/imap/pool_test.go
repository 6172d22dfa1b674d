package imap

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/models"
)

type fakeSession struct {
	mu        sync.Mutex
	broken    bool
	noopErr   error
	loggedOut bool
	status    *interfaces.FolderStatus
	folders   []string
	caps      map[string]bool
	uids      []uint32
	metas     []*interfaces.MessageMeta
	idleEvent interfaces.IdleEvent
}

func (f *fakeSession) Select(ctx context.Context, folder string) (*interfaces.FolderStatus, error) {
	return f.status, nil
}
func (f *fakeSession) ListFolders(ctx context.Context) ([]string, error) { return f.folders, nil }
func (f *fakeSession) UIDSearch(ctx context.Context, from, to uint32) ([]uint32, error) {
	return f.uids, nil
}
func (f *fakeSession) SearchChangedSince(ctx context.Context, modSeq uint64) ([]uint32, error) {
	return f.uids, nil
}
func (f *fakeSession) FetchMeta(ctx context.Context, uids []uint32) ([]*interfaces.MessageMeta, error) {
	return f.metas, nil
}
func (f *fakeSession) Idle(ctx context.Context, timeout time.Duration) (interfaces.IdleEvent, error) {
	return f.idleEvent, nil
}
func (f *fakeSession) Noop(ctx context.Context) error { return f.noopErr }
func (f *fakeSession) Supports(capability string) bool { return f.caps[capability] }
func (f *fakeSession) Broken() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broken
}
func (f *fakeSession) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

type fakeFactory struct {
	dials   atomic.Int32
	dialErr error
	build   func() *fakeSession
}

func (f *fakeFactory) Dial(ctx context.Context, account *models.Account) (interfaces.IMAPSession, error) {
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.dials.Add(1)
	if f.build != nil {
		return f.build(), nil
	}
	return &fakeSession{}, nil
}

func poolConfig(maxPer int, ttl time.Duration) *config.IMAPConfig {
	return &config.IMAPConfig{
		MaxSessionsPerAccount: maxPer,
		SessionTTL:            ttl,
	}
}

func testLogger() logger.Logger {
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()
	return log
}

func testAccount() *models.Account {
	return &models.Account{ID: "acct_pool_test", ImapServer: "imap.example.com"}
}

func TestSessionPool_ReusesReleasedSession(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewSessionPool(poolConfig(2, time.Minute), factory, testLogger())
	defer pool.Close()
	account := testAccount()

	s1, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	pool.Release(account.ID, s1)

	s2, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), factory.dials.Load())
}

func TestSessionPool_EnforcesAccountCeiling(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewSessionPool(poolConfig(1, time.Minute), factory, testLogger())
	defer pool.Close()
	account := testAccount()

	s1, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Borrow(ctx, account)
	require.Error(t, err)

	// Releasing hands the session to the next borrower.
	done := make(chan interfaces.IMAPSession, 1)
	go func() {
		s, err := pool.Borrow(context.Background(), account)
		require.NoError(t, err)
		done <- s
	}()
	time.Sleep(20 * time.Millisecond)
	pool.Release(account.ID, s1)

	select {
	case s2 := <-done:
		assert.Same(t, s1, s2)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
	assert.Equal(t, int32(1), factory.dials.Load())
}

func TestSessionPool_DiscardsBrokenSessions(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewSessionPool(poolConfig(1, time.Minute), factory, testLogger())
	defer pool.Close()
	account := testAccount()

	s1, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	s1.(*fakeSession).broken = true
	pool.Release(account.ID, s1)

	assert.True(t, s1.(*fakeSession).loggedOut)

	s2, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, int32(2), factory.dials.Load())
}

func TestSessionPool_ProbesIdleSessionsOnBorrow(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewSessionPool(poolConfig(1, time.Minute), factory, testLogger())
	defer pool.Close()
	account := testAccount()

	s1, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	s1.(*fakeSession).noopErr = context.DeadlineExceeded
	pool.Release(account.ID, s1)

	// The probe fails, so the pool dials a fresh session.
	s2, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.True(t, s1.(*fakeSession).loggedOut)
}

func TestSessionPool_ProbeFailureFallsBackToNextIdle(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewSessionPool(poolConfig(2, time.Minute), factory, testLogger())
	defer pool.Close()
	account := testAccount()

	s1, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	s2, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	s2.(*fakeSession).noopErr = context.DeadlineExceeded
	pool.Release(account.ID, s1)
	pool.Release(account.ID, s2)

	// Newest first: the dead s2 is probed and dropped, then s1 is handed out
	// without another dial.
	got, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	assert.Same(t, s1, got)
	assert.True(t, s2.(*fakeSession).loggedOut)
	assert.Equal(t, int32(2), factory.dials.Load())
}

func TestSessionPool_ExpiresIdleSessions(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewSessionPool(poolConfig(1, time.Nanosecond), factory, testLogger())
	defer pool.Close()
	account := testAccount()

	s1, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	pool.Release(account.ID, s1)
	time.Sleep(time.Millisecond)

	s2, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.True(t, s1.(*fakeSession).loggedOut)
}

func TestSessionPool_CloseAccountDropsIdle(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewSessionPool(poolConfig(2, time.Minute), factory, testLogger())
	defer pool.Close()
	account := testAccount()

	s1, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	pool.Release(account.ID, s1)

	pool.CloseAccount(account.ID)
	assert.True(t, s1.(*fakeSession).loggedOut)

	s2, err := pool.Borrow(context.Background(), account)
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
}

func TestSessionPool_BorrowAfterCloseFails(t *testing.T) {
	pool := NewSessionPool(poolConfig(1, time.Minute), &fakeFactory{}, testLogger())
	pool.Close()

	_, err := pool.Borrow(context.Background(), testAccount())
	require.Error(t, err)
}
