package cron

import (
	"testing"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/internal/logger"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func getConfig() *config.Config {
	return &config.Config{
		WebhookConfig: &config.WebhookConfig{StuckClaimAge: 5 * time.Minute},
		ClusterConfig: &config.ClusterConfig{DeadAfter: 10 * time.Second},
		SyncConfig:    &config.SyncConfig{TombstoneRetention: 720 * time.Hour},
	}
}

func TestNewCronManager(t *testing.T) {
	cfg := getConfig()
	log := getLogger()

	cm := NewCronManager(cfg, log, nil, nil, nil, nil)

	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, log, cm.log)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_RegisterJobs(t *testing.T) {
	cm := NewCronManager(getConfig(), getLogger(), nil, nil, nil, nil)

	c := cronv3.New(cronv3.WithSeconds())
	cm.registerJobs(c)

	assert.Len(t, cm.jobIDs, 4)
	for _, name := range []string{"heartbeat", "reset_stuck_deliveries", "sweep_dead_leases", "prune_tombstones"} {
		_, ok := cm.jobIDs[name]
		assert.True(t, ok, "job %s not registered", name)
	}
}

func TestCronManager_LeaderGate(t *testing.T) {
	ran := false
	leader := false
	cm := NewCronManager(getConfig(), getLogger(), nil, nil, nil, func() bool { return leader })

	c := cronv3.New(cronv3.WithSeconds())
	cm.registerLeaderJob(c, "probe", "* * * * * *", func() { ran = true })
	id, ok := cm.jobIDs["probe"]
	require.True(t, ok)

	entry := c.Entry(id)
	require.NotNil(t, entry.Job)

	// A follower skips the job body entirely.
	entry.Job.Run()
	assert.False(t, ran)

	leader = true
	entry.Job.Run()
	assert.True(t, ran)
}

func TestCronManager_Stop(t *testing.T) {
	cm := NewCronManager(getConfig(), getLogger(), nil, nil, nil, nil)

	mockCron := cronv3.New()
	mockCron.Start()
	cm.cron = mockCron

	cm.Stop()

	select {
	case <-cm.stopCh:
		// Channel is closed as expected
	default:
		t.Error("Stop channel was not closed")
	}
}
