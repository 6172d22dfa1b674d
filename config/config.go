package config

import (
	"time"

	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
)

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"12222"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	// Worker identity; defaults to hostname-pid when empty.
	WorkerID string `env:"WORKER_ID"`
	Logger   *logger.Config
	Tracing  *tracing.JaegerConfig
}

type DatabaseConfig struct {
	Host            string `env:"MAILWATCH_POSTGRES_HOST,required"`
	Port            string `env:"MAILWATCH_POSTGRES_PORT,required"`
	User            string `env:"MAILWATCH_POSTGRES_USER,required"`
	DBName          string `env:"MAILWATCH_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILWATCH_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILWATCH_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"MAILWATCH_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"MAILWATCH_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"MAILWATCH_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILWATCH_POSTGRES_SSL_MODE" envDefault:"disable"`
}

type IMAPConfig struct {
	// Concurrent session ceiling per account; providers commonly reject
	// more than a handful of parallel logins per mailbox.
	MaxSessionsPerAccount int `env:"IMAP_MAX_SESSIONS_PER_ACCOUNT" envDefault:"4"`
	// Concurrent session ceiling across all accounts on one IMAP host.
	MaxSessionsPerHost int `env:"IMAP_MAX_SESSIONS_PER_HOST" envDefault:"20"`
	// New-connection dial budget per host, per minute.
	DialsPerHostPerMinute int           `env:"IMAP_DIALS_PER_HOST_PER_MINUTE" envDefault:"30"`
	CommandTimeout        time.Duration `env:"IMAP_COMMAND_TIMEOUT" envDefault:"60s"`
	DialTimeout           time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	// Idle sessions older than this are closed instead of reused.
	SessionTTL time.Duration `env:"IMAP_SESSION_TTL" envDefault:"10m"`
	// IDLE is torn down and reissued before the 29 minute server limit.
	IdleRenewal time.Duration `env:"IMAP_IDLE_RENEWAL" envDefault:"28m"`
	// Poll cadence for folders whose server lacks IDLE.
	PollInterval time.Duration `env:"IMAP_POLL_INTERVAL" envDefault:"60s"`
}

type SyncConfig struct {
	// UID page size for backfill and delta fetches.
	BatchSize int `env:"SYNC_BATCH_SIZE" envDefault:"200"`
	// 0 = backfill the entire mailbox; accounts may override per row.
	BackfillLimit int `env:"SYNC_BACKFILL_LIMIT" envDefault:"0"`
	// Folders synced concurrently per account.
	MaxFoldersPerAccount int           `env:"SYNC_MAX_FOLDERS_PER_ACCOUNT" envDefault:"15"`
	RetryBackoffBase     time.Duration `env:"SYNC_RETRY_BACKOFF_BASE" envDefault:"2s"`
	RetryBackoffMax      time.Duration `env:"SYNC_RETRY_BACKOFF_MAX" envDefault:"5m"`
	// Spread between folder unit starts so a restart does not stampede
	// the provider.
	StartStagger time.Duration `env:"SYNC_START_STAGGER" envDefault:"250ms"`
	// Tombstones older than this are pruned by the nightly sweep.
	TombstoneRetention time.Duration `env:"SYNC_TOMBSTONE_RETENTION" envDefault:"720h"`
}

type WebhookConfig struct {
	MaxAttempts    int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"12"`
	BackoffBase    time.Duration `env:"WEBHOOK_BACKOFF_BASE" envDefault:"30s"`
	BackoffMax     time.Duration `env:"WEBHOOK_BACKOFF_MAX" envDefault:"1h"`
	RequestTimeout time.Duration `env:"WEBHOOK_REQUEST_TIMEOUT" envDefault:"30s"`
	PollInterval   time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"2s"`
	// Concurrent posts; per (account, subscription) ordering still holds
	// because only pair heads are dispatched.
	MaxInFlight int `env:"WEBHOOK_MAX_IN_FLIGHT" envDefault:"32"`
	// In-flight claims older than this are assumed crashed and re-queued.
	StuckClaimAge time.Duration `env:"WEBHOOK_STUCK_CLAIM_AGE" envDefault:"5m"`
}

type ClusterConfig struct {
	HeartbeatInterval time.Duration `env:"CLUSTER_HEARTBEAT_INTERVAL" envDefault:"5s"`
	// A worker missing two heartbeats is dead and gets rebalanced away.
	DeadAfter       time.Duration `env:"CLUSTER_DEAD_AFTER" envDefault:"10s"`
	LeaderTTL       time.Duration `env:"CLUSTER_LEADER_TTL" envDefault:"15s"`
	RebalancePeriod time.Duration `env:"CLUSTER_REBALANCE_PERIOD" envDefault:"5s"`
	// Supervisor poll cadence for assignment changes.
	AssignmentPoll time.Duration `env:"CLUSTER_ASSIGNMENT_POLL" envDefault:"2s"`
	ShutdownGrace  time.Duration `env:"CLUSTER_SHUTDOWN_GRACE" envDefault:"20s"`
}
