package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	imapservice "github.com/mailwatchhq/mailwatch/services/imap"
)

// Worker heartbeats its lease and runs one supervisor per account the
// coordinator assigned to it. Assignment changes are picked up by polling;
// a generation bump on an assignment restarts that account's supervisor so
// a stale holder never keeps syncing after a rebalance.
type Worker struct {
	ID string

	accounts   interfaces.AccountRepository
	leases     interfaces.LeaseRepository
	folders    interfaces.FolderRepository
	messages   interfaces.MessageRepository
	events     interfaces.EventSink
	pool       interfaces.SessionPool
	clusterCfg *config.ClusterConfig
	syncCfg    *config.SyncConfig
	imapCfg    *config.IMAPConfig
	log        logger.Logger

	mu          sync.Mutex
	supervisors map[string]*supervisorHandle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type supervisorHandle struct {
	supervisor *imapservice.Supervisor
	generation int64
}

func NewWorker(
	workerID string,
	accounts interfaces.AccountRepository,
	leases interfaces.LeaseRepository,
	folders interfaces.FolderRepository,
	messages interfaces.MessageRepository,
	events interfaces.EventSink,
	pool interfaces.SessionPool,
	clusterCfg *config.ClusterConfig,
	syncCfg *config.SyncConfig,
	imapCfg *config.IMAPConfig,
	log logger.Logger,
) *Worker {
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	return &Worker{
		ID:          workerID,
		accounts:    accounts,
		leases:      leases,
		folders:     folders,
		messages:    messages,
		events:      events,
		pool:        pool,
		clusterCfg:  clusterCfg,
		syncCfg:     syncCfg,
		imapCfg:     imapCfg,
		log:         log,
		supervisors: make(map[string]*supervisorHandle),
	}
}

func (w *Worker) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel

	// Register the lease before taking any work.
	if err := w.leases.Heartbeat(ctx, w.ID); err != nil {
		cancel()
		return err
	}
	w.log.Infof("worker %s registered", w.ID)

	w.wg.Add(2)
	go w.heartbeatLoop(ctx)
	go w.assignmentLoop(ctx)
	return nil
}

// Stop winds down all supervisors within the shutdown grace window and
// removes the lease so the coordinator reassigns immediately instead of
// waiting for the lease to expire.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()

		w.mu.Lock()
		handles := make([]*supervisorHandle, 0, len(w.supervisors))
		for _, h := range w.supervisors {
			handles = append(handles, h)
		}
		w.supervisors = make(map[string]*supervisorHandle)
		w.mu.Unlock()

		for _, h := range handles {
			h.supervisor.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.clusterCfg.ShutdownGrace):
		w.log.Warnf("worker %s shutdown grace expired with supervisors still running", w.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.leases.Delete(ctx, w.ID); err != nil {
		w.log.Errorf("worker %s failed to drop lease: %v", w.ID, err)
	}
	w.log.Infof("worker %s stopped", w.ID)
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.clusterCfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.leases.Heartbeat(ctx, w.ID); err != nil {
				w.log.Errorf("worker %s heartbeat failed: %v", w.ID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) assignmentLoop(ctx context.Context) {
	defer w.wg.Done()

	// Converge immediately on start, then poll.
	w.reconcileAssignments(ctx)

	ticker := time.NewTicker(w.clusterCfg.AssignmentPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.reconcileAssignments(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// reconcileAssignments diffs the assigned set against running supervisors:
// start missing, stop revoked, restart generation-bumped.
func (w *Worker) reconcileAssignments(ctx context.Context) {
	span, spanCtx := tracing.StartTracerSpan(ctx, "Worker.reconcileAssignments")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(span)
	span.SetTag(tracing.SpanTagWorkerId, w.ID)

	assigned, err := w.accounts.GetAssigned(spanCtx, w.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		w.log.Errorf("worker %s failed to load assignments: %v", w.ID, err)
		return
	}

	wanted := make(map[string]*models.Account, len(assigned))
	for _, account := range assigned {
		wanted[account.ID] = account
	}

	var toStop []*supervisorHandle
	var toStart []*models.Account

	w.mu.Lock()
	for accountID, handle := range w.supervisors {
		account, ok := wanted[accountID]
		if ok && account.LeaseGeneration == handle.generation {
			continue
		}
		// Revoked, or reassigned under a newer generation.
		toStop = append(toStop, handle)
		delete(w.supervisors, accountID)
		if ok {
			toStart = append(toStart, account)
		}
	}
	for accountID, account := range wanted {
		if _, ok := w.supervisors[accountID]; !ok && !containsAccount(toStart, accountID) {
			toStart = append(toStart, account)
		}
	}
	w.mu.Unlock()

	for _, handle := range toStop {
		handle.supervisor.Stop()
	}
	for _, account := range toStart {
		if ctx.Err() != nil {
			return
		}
		w.startSupervisor(ctx, account)
	}
}

func (w *Worker) startSupervisor(ctx context.Context, account *models.Account) {
	supervisor := imapservice.NewSupervisor(
		account, w.pool, w.accounts, w.folders, w.messages, w.events,
		w.syncCfg, w.imapCfg, w.log,
	)
	supervisor.Start(ctx)

	w.mu.Lock()
	w.supervisors[account.ID] = &supervisorHandle{
		supervisor: supervisor,
		generation: account.LeaseGeneration,
	}
	w.mu.Unlock()

	w.log.Infof("worker %s started sync for account %s (generation %d)", w.ID, account.ID, account.LeaseGeneration)
}

// SupervisedAccounts lists the account IDs currently running, for the
// status endpoint.
func (w *Worker) SupervisedAccounts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.supervisors))
	for accountID := range w.supervisors {
		out = append(out, accountID)
	}
	return out
}

func containsAccount(accounts []*models.Account, id string) bool {
	for _, a := range accounts {
		if a.ID == id {
			return true
		}
	}
	return false
}
