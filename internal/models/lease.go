package models

import (
	"time"
)

// WorkerLease is the heartbeat record for one worker process. A lease whose
// heartbeat is older than twice the heartbeat interval is considered dead
// and its accounts are redistributed.
type WorkerLease struct {
	WorkerID    string    `gorm:"column:worker_id;type:varchar(100);primaryKey"`
	HeartbeatAt time.Time `gorm:"column:heartbeat_at;type:timestamp;not null"`
	// Bumped by the coordinator on every reassignment touching this worker;
	// fences supervisors against acting on stale assignments.
	Generation int64 `gorm:"column:generation;not null;default:0"`
	StartedAt  time.Time `gorm:"column:started_at;type:timestamp;default:current_timestamp"`
}

func (WorkerLease) TableName() string {
	return "worker_leases"
}

// LeaderLease is the coordinator singleton lease. Exactly one row exists;
// whichever worker holds it within its TTL runs rebalancing.
type LeaderLease struct {
	ID        int       `gorm:"column:id;primaryKey"` // always 1
	HolderID  string    `gorm:"column:holder_id;type:varchar(100);not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;type:timestamp;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (LeaderLease) TableName() string {
	return "leader_leases"
}
