package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	cron_config "github.com/mailwatchhq/mailwatch/internal/cron/config"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

// GroupMaintenance serializes the maintenance jobs so overlapping
// schedules never run two sweeps at once.
const GroupMaintenance = "maintenance"

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupMaintenance: new(sync.Mutex),
	},
}

// CronManager runs the periodic maintenance jobs. Every worker starts one;
// jobs that must run once per cluster are gated on isLeader so only the
// current rebalance leader executes them.
type CronManager struct {
	cfg        *config.Config
	log        logger.Logger
	cron       *cronv3.Cron
	stopCh     chan struct{}
	jobIDs     map[string]cronv3.EntryID
	deliveries interfaces.DeliveryRepository
	leases     interfaces.LeaseRepository
	messages   interfaces.MessageRepository
	isLeader   func() bool
}

func NewCronManager(
	cfg *config.Config,
	log logger.Logger,
	deliveries interfaces.DeliveryRepository,
	leases interfaces.LeaseRepository,
	messages interfaces.MessageRepository,
	isLeader func() bool,
) *CronManager {
	return &CronManager{
		cfg:        cfg,
		log:        log,
		stopCh:     make(chan struct{}),
		jobIDs:     make(map[string]cronv3.EntryID),
		deliveries: deliveries,
		leases:     leases,
		messages:   messages,
		isLeader:   isLeader,
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleHeartbeat != "" {
		hostname, _ := os.Hostname()
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			cm.log.Infof("Cron heartbeat from host: %s", hostname)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	cm.registerLeaderJob(c, "reset_stuck_deliveries", cronConfig.CronScheduleResetStuckDeliveries, cm.resetStuckDeliveries)
	cm.registerLeaderJob(c, "sweep_dead_leases", cronConfig.CronScheduleSweepDeadLeases, cm.sweepDeadLeases)
	cm.registerLeaderJob(c, "prune_tombstones", cronConfig.CronSchedulePruneTombstones, cm.pruneTombstones)
}

func (cm *CronManager) registerLeaderJob(c *cronv3.Cron, name, schedule string, job func()) {
	if schedule == "" {
		return
	}
	id, err := c.AddFunc(schedule, func() {
		if cm.isLeader != nil && !cm.isLeader() {
			return
		}
		jobLocks.locks[GroupMaintenance].Lock()
		defer jobLocks.locks[GroupMaintenance].Unlock()
		job()
	})
	if err != nil {
		cm.log.Fatalf("Could not add %s cron job: %v", name, err)
	}
	cm.jobIDs[name] = id
	cm.log.Infof("Registered %s job with schedule: %s", name, schedule)
}

// resetStuckDeliveries requeues webhook deliveries whose dispatcher crashed
// mid-post, so they become eligible for the next poll.
func (cm *CronManager) resetStuckDeliveries() {
	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.resetStuckDeliveries")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	n, err := cm.deliveries.ResetStuckInFlight(ctx, cm.cfg.WebhookConfig.StuckClaimAge)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to reset stuck deliveries: %v", err)
		return
	}
	if n > 0 {
		cm.log.Warnf("Requeued %d webhook deliveries stuck in flight", n)
	}
}

// sweepDeadLeases removes worker leases that stopped heartbeating. The
// rebalance loop also does this; the job covers clusters where no leader
// tick ran for a while.
func (cm *CronManager) sweepDeadLeases() {
	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.sweepDeadLeases")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	n, err := cm.leases.SweepDead(ctx, cm.cfg.ClusterConfig.DeadAfter)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to sweep dead worker leases: %v", err)
		return
	}
	if n > 0 {
		cm.log.Warnf("Swept %d dead worker leases", n)
	}
}

// pruneTombstones hard-deletes expunged index rows past the retention
// window.
func (cm *CronManager) pruneTombstones() {
	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.pruneTombstones")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	cutoff := utils.Now().Add(-cm.cfg.SyncConfig.TombstoneRetention)
	n, err := cm.messages.PruneTombstones(ctx, cutoff)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to prune tombstones: %v", err)
		return
	}
	if n > 0 {
		cm.log.Infof("Pruned %d expunge tombstones older than %s", n, cutoff.Format(time.RFC3339))
	}
}
