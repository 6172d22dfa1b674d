package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

func accountIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("acct_%04d", i)
	}
	return ids
}

func TestHashRing_BoundedLoad(t *testing.T) {
	workers := []string{"worker-a", "worker-b", "worker-c", "worker-d"}
	accounts := accountIDs(400)

	assignment := NewHashRing(workers).Assign(accounts, 1.1)
	require.Len(t, assignment, 400)

	load := make(map[string]int)
	for _, worker := range assignment {
		load[worker]++
	}
	// Fair share is 100; the bound allows at most 110 per worker.
	for worker, n := range load {
		assert.LessOrEqual(t, n, 110, "worker %s is over the load bound", worker)
		assert.Greater(t, n, 0, "worker %s got nothing", worker)
	}
}

func TestHashRing_Deterministic(t *testing.T) {
	workers := []string{"worker-a", "worker-b", "worker-c"}
	accounts := accountIDs(50)

	first := NewHashRing(workers).Assign(accounts, 1.1)
	second := NewHashRing(workers).Assign(accounts, 1.1)
	assert.Equal(t, first, second)
}

func TestHashRing_MembershipChangeMovesFewAccounts(t *testing.T) {
	accounts := accountIDs(300)
	before := NewHashRing([]string{"worker-a", "worker-b", "worker-c"}).Assign(accounts, 1.1)
	after := NewHashRing([]string{"worker-a", "worker-b", "worker-c", "worker-d"}).Assign(accounts, 1.1)

	moved := 0
	for _, id := range accounts {
		if before[id] != after[id] {
			moved++
		}
	}
	// Adding a fourth worker should move roughly a quarter of the accounts,
	// not reshuffle everything.
	assert.Less(t, moved, 180, "membership change moved %d of 300 accounts", moved)
	assert.Greater(t, moved, 0)
}

func TestHashRing_SingleWorkerTakesAll(t *testing.T) {
	accounts := accountIDs(10)
	assignment := NewHashRing([]string{"only"}).Assign(accounts, 1.1)
	for _, id := range accounts {
		assert.Equal(t, "only", assignment[id])
	}
}

type fakeAccountRepo struct {
	mu   sync.Mutex
	rows map[string]*models.Account
}

func newFakeAccountRepo(accounts ...*models.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{rows: make(map[string]*models.Account)}
	for _, a := range accounts {
		r.rows[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *fakeAccountRepo) GetSyncable(ctx context.Context) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Account
	for _, a := range r.rows {
		if a.Status.Syncable() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) GetAssigned(ctx context.Context, workerID string) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Account
	for _, a := range r.rows {
		if a.AssignedWorkerID != nil && *a.AssignedWorkerID == workerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) Save(ctx context.Context, account *models.Account) error { return nil }

func (r *fakeAccountRepo) UpdateStatus(ctx context.Context, id string, status enum.AccountStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[id]; ok {
		a.Status = status
		a.LastError = lastError
	}
	return nil
}

func (r *fakeAccountRepo) MarkSynced(ctx context.Context, id string) error { return nil }

func (r *fakeAccountRepo) Assign(ctx context.Context, accountID string, workerID *string, generation int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[accountID]; ok {
		a.AssignedWorkerID = workerID
		a.LeaseGeneration = generation
	}
	return nil
}

func (r *fakeAccountRepo) UnassignWorker(ctx context.Context, workerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.rows {
		if a.AssignedWorkerID != nil && *a.AssignedWorkerID == workerID {
			a.AssignedWorkerID = nil
			n++
		}
	}
	return n, nil
}

type fakeLeaseRepo struct {
	mu     sync.Mutex
	leases map[string]*models.WorkerLease
	leader string
}

func newFakeLeaseRepo(workerIDs ...string) *fakeLeaseRepo {
	r := &fakeLeaseRepo{leases: make(map[string]*models.WorkerLease)}
	for _, id := range workerIDs {
		r.leases[id] = &models.WorkerLease{WorkerID: id, HeartbeatAt: utils.Now()}
	}
	return r
}

func (r *fakeLeaseRepo) Heartbeat(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leases[workerID] = &models.WorkerLease{WorkerID: workerID, HeartbeatAt: utils.Now()}
	return nil
}

func (r *fakeLeaseRepo) Get(ctx context.Context, workerID string) (*models.WorkerLease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leases[workerID], nil
}

func (r *fakeLeaseRepo) GetLive(ctx context.Context, deadAfter time.Duration) ([]*models.WorkerLease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().UTC().Add(-deadAfter)
	var out []*models.WorkerLease
	for _, lease := range r.leases {
		if !lease.HeartbeatAt.Before(cutoff) {
			out = append(out, lease)
		}
	}
	return out, nil
}

func (r *fakeLeaseRepo) GetAll(ctx context.Context) ([]*models.WorkerLease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.WorkerLease
	for _, lease := range r.leases {
		out = append(out, lease)
	}
	return out, nil
}

func (r *fakeLeaseRepo) BumpGeneration(ctx context.Context, workerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lease, ok := r.leases[workerID]
	if !ok {
		return 0, nil
	}
	lease.Generation++
	return lease.Generation, nil
}

func (r *fakeLeaseRepo) Delete(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, workerID)
	return nil
}

func (r *fakeLeaseRepo) SweepDead(ctx context.Context, deadAfter time.Duration) (int64, error) {
	return 0, nil
}

func (r *fakeLeaseRepo) TryAcquireLeadership(ctx context.Context, workerID string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leader == "" || r.leader == workerID {
		r.leader = workerID
		return true, nil
	}
	return false, nil
}

func (r *fakeLeaseRepo) ReleaseLeadership(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leader == workerID {
		r.leader = ""
	}
	return nil
}

func coordinatorLogger() logger.Logger {
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()
	return log
}

func clusterConfig() *config.ClusterConfig {
	return &config.ClusterConfig{
		HeartbeatInterval: 5 * time.Second,
		DeadAfter:         10 * time.Second,
		LeaderTTL:         15 * time.Second,
		RebalancePeriod:   10 * time.Millisecond,
	}
}

func TestCoordinator_AssignsUnownedAccounts(t *testing.T) {
	accounts := newFakeAccountRepo(
		&models.Account{ID: "acct_1", Status: enum.AccountActive},
		&models.Account{ID: "acct_2", Status: enum.AccountActive},
		&models.Account{ID: "acct_3", Status: enum.AccountDisabled},
	)
	leases := newFakeLeaseRepo("worker-a", "worker-b")
	c := NewCoordinator("worker-a", accounts, leases, clusterConfig(), coordinatorLogger())

	require.NoError(t, c.rebalance(context.Background()))

	for _, id := range []string{"acct_1", "acct_2"} {
		a, _ := accounts.GetByID(context.Background(), id)
		require.NotNil(t, a.AssignedWorkerID, "account %s unassigned", id)
		assert.Greater(t, a.LeaseGeneration, int64(0))
	}
	// Disabled accounts are never assigned.
	disabled, _ := accounts.GetByID(context.Background(), "acct_3")
	assert.Nil(t, disabled.AssignedWorkerID)
}

func TestCoordinator_SweepsDeadWorkerAndReassigns(t *testing.T) {
	dead := "worker-dead"
	accounts := newFakeAccountRepo(
		&models.Account{ID: "acct_1", Status: enum.AccountActive, AssignedWorkerID: &dead, LeaseGeneration: 3},
	)
	leases := newFakeLeaseRepo("worker-live")
	leases.leases[dead] = &models.WorkerLease{WorkerID: dead, HeartbeatAt: utils.Now().Add(-time.Minute), Generation: 3}

	c := NewCoordinator("worker-live", accounts, leases, clusterConfig(), coordinatorLogger())
	require.NoError(t, c.rebalance(context.Background()))

	a, _ := accounts.GetByID(context.Background(), "acct_1")
	require.NotNil(t, a.AssignedWorkerID)
	assert.Equal(t, "worker-live", *a.AssignedWorkerID)

	_, stillThere := leases.leases[dead]
	assert.False(t, stillThere)
}

func TestCoordinator_StableAssignmentsStand(t *testing.T) {
	accounts := newFakeAccountRepo(
		&models.Account{ID: "acct_1", Status: enum.AccountActive},
		&models.Account{ID: "acct_2", Status: enum.AccountActive},
	)
	leases := newFakeLeaseRepo("worker-a")
	c := NewCoordinator("worker-a", accounts, leases, clusterConfig(), coordinatorLogger())

	require.NoError(t, c.rebalance(context.Background()))
	a1, _ := accounts.GetByID(context.Background(), "acct_1")
	gen := a1.LeaseGeneration

	// A second pass with unchanged membership must not bump generations.
	require.NoError(t, c.rebalance(context.Background()))
	a1, _ = accounts.GetByID(context.Background(), "acct_1")
	assert.Equal(t, gen, a1.LeaseGeneration)
}

func TestCoordinator_SoloAssignsAllToSelf(t *testing.T) {
	accounts := newFakeAccountRepo(
		&models.Account{ID: "acct_1", Status: enum.AccountActive},
		&models.Account{ID: "acct_2", Status: enum.AccountActive},
	)
	// No leader row, no other leases; solo mode needs neither.
	leases := newFakeLeaseRepo()
	c := NewSoloCoordinator("worker-solo", accounts, leases, clusterConfig(), coordinatorLogger())

	c.tick(context.Background())

	assert.True(t, c.IsLeader())
	for _, id := range []string{"acct_1", "acct_2"} {
		a, _ := accounts.GetByID(context.Background(), id)
		require.NotNil(t, a.AssignedWorkerID, "account %s unassigned", id)
		assert.Equal(t, "worker-solo", *a.AssignedWorkerID)
	}
}

func TestCoordinator_OnlyLeaderRebalances(t *testing.T) {
	accounts := newFakeAccountRepo(&models.Account{ID: "acct_1", Status: enum.AccountActive})
	leases := newFakeLeaseRepo("worker-a", "worker-b")
	leases.leader = "worker-a"

	follower := NewCoordinator("worker-b", accounts, leases, clusterConfig(), coordinatorLogger())
	follower.tick(context.Background())

	assert.False(t, follower.IsLeader())
	a, _ := accounts.GetByID(context.Background(), "acct_1")
	assert.Nil(t, a.AssignedWorkerID)
}
