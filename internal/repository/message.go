package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) interfaces.MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) IndexBatch(ctx context.Context, entries []*models.MessageIndexEntry, enqueue func(tx *gorm.DB, inserted []*models.MessageIndexEntry) error) ([]*models.MessageIndexEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.IndexBatch")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("batchSize", len(entries))

	if len(entries) == 0 {
		return nil, nil
	}

	var inserted []*models.MessageIndexEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account_id"}, {Name: "folder_id"}, {Name: "uid"}},
				DoNothing: true,
			}).Create(entry)
			if result.Error != nil {
				return fmt.Errorf("failed to index message uid %d: %w", entry.UID, result.Error)
			}
			if result.RowsAffected > 0 {
				inserted = append(inserted, entry)
			}
		}
		if enqueue != nil {
			if err := enqueue(tx, inserted); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return inserted, nil
}

func (r *messageRepository) GetByUIDs(ctx context.Context, accountID, folderID string, uids []uint32) ([]*models.MessageIndexEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByUIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderID)

	var entries []*models.MessageIndexEntry
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_id = ? AND uid IN ?", accountID, folderID, uids).
		Find(&entries)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get messages by uid: %w", result.Error)
	}

	return entries, nil
}

func (r *messageRepository) ListUIDs(ctx context.Context, accountID, folderID string, fromUID, toUID uint32) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListUIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderID)

	var uids []uint32
	query := r.db.WithContext(ctx).
		Model(&models.MessageIndexEntry{}).
		Where("account_id = ? AND folder_id = ? AND expunged = false AND uid >= ?", accountID, folderID, fromUID)
	if toUID > 0 {
		query = query.Where("uid <= ?", toUID)
	}
	result := query.Order("uid").Pluck("uid", &uids)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to list uids: %w", result.Error)
	}

	return uids, nil
}

func (r *messageRepository) UpdateFlags(ctx context.Context, entry *models.MessageIndexEntry, flags []string, enqueue func(tx *gorm.DB) error) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.UpdateFlags")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, entry.AccountID)
	tracing.TagFolder(span, entry.FolderID)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.MessageIndexEntry{}).
			Where("id = ?", entry.ID).
			Update("flags", pq.StringArray(flags))
		if result.Error != nil {
			return fmt.Errorf("failed to update flags: %w", result.Error)
		}
		if enqueue != nil {
			if err := enqueue(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

func (r *messageRepository) MarkExpunged(ctx context.Context, accountID, folderID string, uids []uint32, enqueue func(tx *gorm.DB) error) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MarkExpunged")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderID)
	span.LogKV("uids", len(uids))

	if len(uids) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.MessageIndexEntry{}).
			Where("account_id = ? AND folder_id = ? AND uid IN ? AND expunged = false", accountID, folderID, uids).
			Updates(map[string]interface{}{
				"expunged":    true,
				"expunged_at": utils.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to mark expunged: %w", result.Error)
		}
		if enqueue != nil {
			if err := enqueue(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

func (r *messageRepository) PurgeFolder(ctx context.Context, accountID, folderID string, enqueue func(tx *gorm.DB) error) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.PurgeFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderID)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("account_id = ? AND folder_id = ?", accountID, folderID).
			Delete(&models.MessageIndexEntry{})
		if result.Error != nil {
			return fmt.Errorf("failed to purge folder index: %w", result.Error)
		}
		span.LogKV("purged", result.RowsAffected)
		if enqueue != nil {
			if err := enqueue(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

func (r *messageRepository) PruneTombstones(ctx context.Context, before time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.PruneTombstones")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Where("expunged = true AND expunged_at < ?", before).
		Delete(&models.MessageIndexEntry{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to prune tombstones: %w", result.Error)
	}

	return result.RowsAffected, nil
}
