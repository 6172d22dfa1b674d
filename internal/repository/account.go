package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetSyncable(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetSyncable")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	result := r.db.WithContext(ctx).
		Where("status = ?", enum.AccountActive).
		Order("id").
		Find(&accounts)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get syncable accounts: %w", result.Error)
	}

	return accounts, nil
}

func (r *accountRepository) GetAssigned(ctx context.Context, workerID string) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetAssigned")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	result := r.db.WithContext(ctx).
		Where("assigned_worker_id = ? AND status = ?", workerID, enum.AccountActive).
		Order("id").
		Find(&accounts)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get assigned accounts: %w", result.Error)
	}

	return accounts, nil
}

func (r *accountRepository) Save(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Save")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, account.ID)

	result := r.db.WithContext(ctx).Save(account)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save account: %w", result.Error)
	}

	return nil
}

func (r *accountRepository) UpdateStatus(ctx context.Context, id string, status enum.AccountStatus, lastError string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": lastError,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update account status: %w", result.Error)
	}

	return nil
}

func (r *accountRepository) MarkSynced(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.MarkSynced")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sync":  utils.Now(),
			"last_error": "",
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to mark account synced: %w", result.Error)
	}

	return nil
}

func (r *accountRepository) Assign(ctx context.Context, accountID string, workerID *string, generation int64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Assign")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"assigned_worker_id": workerID,
			"lease_generation":   generation,
			"updated_at":         utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to assign account: %w", result.Error)
	}

	return nil
}

func (r *accountRepository) UnassignWorker(ctx context.Context, workerID string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UnassignWorker")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("assigned_worker_id = ?", workerID).
		Updates(map[string]interface{}{
			"assigned_worker_id": nil,
			"updated_at":         utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to unassign worker accounts: %w", result.Error)
	}

	return result.RowsAffected, nil
}
