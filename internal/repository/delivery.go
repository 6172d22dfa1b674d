package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

type deliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) interfaces.DeliveryRepository {
	return &deliveryRepository{db: db}
}

func (r *deliveryRepository) CreateTx(tx *gorm.DB, deliveries []*models.WebhookDelivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	for _, delivery := range deliveries {
		if err := tx.Create(delivery).Error; err != nil {
			return fmt.Errorf("failed to enqueue delivery: %w", err)
		}
	}
	return nil
}

func (r *deliveryRepository) Create(ctx context.Context, deliveries []*models.WebhookDelivery) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "deliveryRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("count", len(deliveries))

	return r.CreateTx(r.db.WithContext(ctx), deliveries)
}

// FindDue picks, for every (account, subscription) pair, the oldest
// non-terminal delivery, and keeps only pairs whose head is due now. A pair
// with an in-flight or future-scheduled head contributes nothing, which is
// what serializes dispatch per pair.
func (r *deliveryRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "deliveryRepository.FindDue")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var deliveries []*models.WebhookDelivery
	result := r.db.WithContext(ctx).
		Raw(`SELECT * FROM (
			SELECT DISTINCT ON (account_id, subscription_id) *
			FROM webhook_deliveries
			WHERE status IN ?
			ORDER BY account_id, subscription_id, event_seq ASC
		) heads
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY event_seq ASC
		LIMIT ?`,
			[]string{string(enum.DeliveryPending), string(enum.DeliveryInFlight)},
			string(enum.DeliveryPending), now, limit).
		Scan(&deliveries)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to find due deliveries: %w", result.Error)
	}

	return deliveries, nil
}

// Claim is the compare-and-swap that keeps concurrent dispatchers from
// posting the same head: only the UPDATE that flips pending to in_flight
// reports a row affected.
func (r *deliveryRepository) Claim(ctx context.Context, id string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "deliveryRepository.Claim")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag(tracing.SpanTagDeliveryId, id)

	result := r.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("id = ? AND status = ?", id, enum.DeliveryPending).
		Updates(map[string]interface{}{
			"status":     enum.DeliveryInFlight,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, fmt.Errorf("failed to claim delivery: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

func (r *deliveryRepository) Save(ctx context.Context, delivery *models.WebhookDelivery) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "deliveryRepository.Save")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, delivery.AccountID)

	delivery.UpdatedAt = utils.Now()
	result := r.db.WithContext(ctx).Save(delivery)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save delivery: %w", result.Error)
	}

	return nil
}

func (r *deliveryRepository) ResetStuckInFlight(ctx context.Context, olderThan time.Duration) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "deliveryRepository.ResetStuckInFlight")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	cutoff := utils.Now().Add(-olderThan)
	result := r.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("status = ? AND updated_at < ?", enum.DeliveryInFlight, cutoff).
		Updates(map[string]interface{}{
			"status":     enum.DeliveryPending,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to reset in-flight deliveries: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (r *deliveryRepository) CountByStatus(ctx context.Context) (map[enum.DeliveryStatus]int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "deliveryRepository.CountByStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var rows []struct {
		Status enum.DeliveryStatus
		Count  int64
	}
	result := r.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to count deliveries: %w", result.Error)
	}

	counts := make(map[enum.DeliveryStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}
