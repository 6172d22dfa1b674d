package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Requeue webhook deliveries stuck in flight, every minute
	CronScheduleResetStuckDeliveries string `env:"CRON_SCHEDULE_RESET_STUCK_DELIVERIES" envDefault:"30 * * * * *"`
	// Sweep worker leases that stopped heartbeating, every minute
	CronScheduleSweepDeadLeases string `env:"CRON_SCHEDULE_SWEEP_DEAD_LEASES" envDefault:"15 * * * * *"`
	// Prune expunge tombstones past retention, daily at 03:00
	CronSchedulePruneTombstones string `env:"CRON_SCHEDULE_PRUNE_TOMBSTONES" envDefault:"0 0 3 * * *"`
}
