package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
)

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) interfaces.SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "subscriptionRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var subscription models.WebhookSubscription
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&subscription)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get subscription: %w", result.Error)
	}

	return &subscription, nil
}

func (r *subscriptionRepository) GetEnabledForApplication(ctx context.Context, applicationID string) ([]*models.WebhookSubscription, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "subscriptionRepository.GetEnabledForApplication")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var subscriptions []*models.WebhookSubscription
	result := r.db.WithContext(ctx).
		Where("application_id = ? AND enabled = true", applicationID).
		Order("id").
		Find(&subscriptions)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get subscriptions: %w", result.Error)
	}

	return subscriptions, nil
}
