package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
)

// maxLoadFactor bounds every worker at ten percent over its fair share.
const maxLoadFactor = 1.1

// Coordinator distributes accounts across live workers. Every worker runs
// one, but only the current leader acts: it sweeps dead leases, unassigns
// their accounts, and converges assignments onto the consistent-hash
// placement. Assignments changed for a worker carry a bumped generation so
// a stale holder can detect it lost the account.
type Coordinator struct {
	workerID string
	accounts interfaces.AccountRepository
	leases   interfaces.LeaseRepository
	cfg      *config.ClusterConfig
	log      logger.Logger

	// solo skips leader election and routes every account to this worker.
	solo bool

	mu     sync.Mutex
	leader bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewCoordinator(
	workerID string,
	accounts interfaces.AccountRepository,
	leases interfaces.LeaseRepository,
	cfg *config.ClusterConfig,
	log logger.Logger,
) *Coordinator {
	return &Coordinator{
		workerID: workerID,
		accounts: accounts,
		leases:   leases,
		cfg:      cfg,
		log:      log,
		done:     make(chan struct{}),
	}
}

// NewSoloCoordinator builds a coordinator for single-process deployments:
// no leader election, all syncable accounts assigned to this worker.
func NewSoloCoordinator(
	workerID string,
	accounts interfaces.AccountRepository,
	leases interfaces.LeaseRepository,
	cfg *config.ClusterConfig,
	log logger.Logger,
) *Coordinator {
	c := NewCoordinator(workerID, accounts, leases, cfg, log)
	c.solo = true
	return c
}

func (c *Coordinator) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.cfg.RebalancePeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done

	if !c.solo && c.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.leases.ReleaseLeadership(ctx, c.workerID); err != nil {
			c.log.Errorf("coordinator %s failed to release leadership: %v", c.workerID, err)
		}
	}
}

func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

func (c *Coordinator) setLeader(leader bool) {
	c.mu.Lock()
	changed := c.leader != leader
	c.leader = leader
	c.mu.Unlock()
	if changed {
		if leader {
			c.log.Infof("coordinator %s acquired leadership", c.workerID)
		} else {
			c.log.Infof("coordinator %s lost leadership", c.workerID)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	if c.solo {
		c.setLeader(true)
	} else {
		acquired, err := c.leases.TryAcquireLeadership(ctx, c.workerID, c.cfg.LeaderTTL)
		if err != nil {
			c.log.Errorf("coordinator %s leadership check failed: %v", c.workerID, err)
			return
		}
		c.setLeader(acquired)
		if !acquired {
			return
		}
	}

	if err := c.rebalance(ctx); err != nil {
		c.log.Errorf("coordinator %s rebalance failed: %v", c.workerID, err)
	}
}

// rebalance converges account assignments onto the hash placement over the
// live workers. Dead leases are swept first so their accounts move in the
// same pass.
func (c *Coordinator) rebalance(ctx context.Context) error {
	span, ctx := tracing.StartTracerSpan(ctx, "Coordinator.rebalance")
	defer span.Finish()
	tracing.TagComponentCoordinator(span)
	span.SetTag(tracing.SpanTagWorkerId, c.workerID)

	if err := c.sweepDeadWorkers(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	var workerIDs []string
	liveSet := make(map[string]struct{})
	if c.solo {
		workerIDs = []string{c.workerID}
		liveSet[c.workerID] = struct{}{}
	} else {
		live, err := c.leases.GetLive(ctx, c.cfg.DeadAfter)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if len(live) == 0 {
			return nil
		}
		for _, lease := range live {
			workerIDs = append(workerIDs, lease.WorkerID)
			liveSet[lease.WorkerID] = struct{}{}
		}
	}

	accounts, err := c.accounts.GetSyncable(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	accountIDs := make([]string, 0, len(accounts))
	for _, account := range accounts {
		accountIDs = append(accountIDs, account.ID)
	}

	desired := NewHashRing(workerIDs).Assign(accountIDs, maxLoadFactor)

	moved := 0
	for _, account := range accounts {
		target := desired[account.ID]
		current := ""
		if account.AssignedWorkerID != nil {
			current = *account.AssignedWorkerID
		}
		// An assignment to a live worker at the desired placement stands.
		if current == target {
			if _, ok := liveSet[current]; ok {
				continue
			}
		}

		generation, err := c.leases.BumpGeneration(ctx, target)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if err := c.accounts.Assign(ctx, account.ID, &target, generation); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		moved++
	}
	if moved > 0 {
		span.LogKV("moved", moved)
		c.log.Infof("coordinator %s moved %d accounts across %d workers", c.workerID, moved, len(workerIDs))
	}
	return nil
}

// sweepDeadWorkers deletes expired leases and releases their accounts so
// the placement pass can take them.
func (c *Coordinator) sweepDeadWorkers(ctx context.Context) error {
	all, err := c.leases.GetAll(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-c.cfg.DeadAfter)

	for _, lease := range all {
		if !lease.HeartbeatAt.Before(cutoff) {
			continue
		}
		freed, err := c.accounts.UnassignWorker(ctx, lease.WorkerID)
		if err != nil {
			return err
		}
		if err := c.leases.Delete(ctx, lease.WorkerID); err != nil {
			return err
		}
		c.log.Warnf("coordinator %s swept dead worker %s, freed %d accounts", c.workerID, lease.WorkerID, freed)
	}
	return nil
}
