package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

type leaseRepository struct {
	db *gorm.DB
}

func NewLeaseRepository(db *gorm.DB) interfaces.LeaseRepository {
	return &leaseRepository{db: db}
}

func (r *leaseRepository) Heartbeat(ctx context.Context, workerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "leaseRepository.Heartbeat")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	lease := models.WorkerLease{
		WorkerID:    workerID,
		HeartbeatAt: utils.Now(),
		StartedAt:   utils.Now(),
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "worker_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"heartbeat_at": utils.Now()}),
		}).
		Create(&lease)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to heartbeat: %w", result.Error)
	}

	return nil
}

func (r *leaseRepository) Get(ctx context.Context, workerID string) (*models.WorkerLease, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "leaseRepository.Get")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var lease models.WorkerLease
	result := r.db.WithContext(ctx).Where("worker_id = ?", workerID).First(&lease)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get lease: %w", result.Error)
	}

	return &lease, nil
}

func (r *leaseRepository) GetLive(ctx context.Context, deadAfter time.Duration) ([]*models.WorkerLease, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "leaseRepository.GetLive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	cutoff := utils.Now().Add(-deadAfter)
	var leases []*models.WorkerLease
	result := r.db.WithContext(ctx).
		Where("heartbeat_at >= ?", cutoff).
		Order("worker_id").
		Find(&leases)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get live leases: %w", result.Error)
	}

	return leases, nil
}

func (r *leaseRepository) GetAll(ctx context.Context) ([]*models.WorkerLease, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "leaseRepository.GetAll")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var leases []*models.WorkerLease
	result := r.db.WithContext(ctx).Order("worker_id").Find(&leases)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get leases: %w", result.Error)
	}

	return leases, nil
}

func (r *leaseRepository) BumpGeneration(ctx context.Context, workerID string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "leaseRepository.BumpGeneration")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var generation int64
	err := r.db.WithContext(ctx).
		Raw(`UPDATE worker_leases SET generation = generation + 1 WHERE worker_id = ? RETURNING generation`, workerID).
		Scan(&generation).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to bump generation: %w", err)
	}

	return generation, nil
}

func (r *leaseRepository) Delete(ctx context.Context, workerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "leaseRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Where("worker_id = ?", workerID).
		Delete(&models.WorkerLease{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete lease: %w", result.Error)
	}

	return nil
}

func (r *leaseRepository) SweepDead(ctx context.Context, deadAfter time.Duration) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "leaseRepository.SweepDead")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	cutoff := utils.Now().Add(-deadAfter)
	result := r.db.WithContext(ctx).
		Where("heartbeat_at < ?", cutoff).
		Delete(&models.WorkerLease{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to sweep dead leases: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// TryAcquireLeadership takes or renews the singleton coordinator lease. The
// row is claimed when absent, expired, or already held by this worker.
func (r *leaseRepository) TryAcquireLeadership(ctx context.Context, workerID string, ttl time.Duration) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "leaseRepository.TryAcquireLeadership")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	now := utils.Now()
	expires := now.Add(ttl)

	result := r.db.WithContext(ctx).Exec(`
		INSERT INTO leader_leases (id, holder_id, expires_at, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET holder_id = EXCLUDED.holder_id, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
		WHERE leader_leases.holder_id = EXCLUDED.holder_id OR leader_leases.expires_at < ?`,
		workerID, expires, now, now)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, fmt.Errorf("failed to acquire leadership: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

func (r *leaseRepository) ReleaseLeadership(ctx context.Context, workerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "leaseRepository.ReleaseLeadership")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.LeaderLease{}).
		Where("id = 1 AND holder_id = ?", workerID).
		Update("expires_at", utils.Now())
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to release leadership: %w", result.Error)
	}

	return nil
}
