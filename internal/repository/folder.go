package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

type folderRepository struct {
	db *gorm.DB
}

func NewFolderRepository(db *gorm.DB) interfaces.FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) GetByAccount(ctx context.Context, accountID string) ([]*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var folders []*models.Folder
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("name").
		Find(&folders)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folders: %w", result.Error)
	}

	return folders, nil
}

func (r *folderRepository) GetOrCreate(ctx context.Context, accountID, name string) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetOrCreate")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	folder := models.Folder{
		AccountID: accountID,
		Name:      name,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "name"}},
			DoNothing: true,
		}).
		Create(&folder)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to create folder: %w", result.Error)
	}

	// On conflict the insert is skipped; load the existing row.
	var existing models.Folder
	result = r.db.WithContext(ctx).
		Where("account_id = ? AND name = ?", accountID, name).
		First(&existing)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folder: %w", result.Error)
	}

	return &existing, nil
}

func (r *folderRepository) Save(ctx context.Context, folder *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Save")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, folder.AccountID)
	tracing.TagFolder(span, folder.ID)

	folder.UpdatedAt = utils.Now()
	result := r.db.WithContext(ctx).Save(folder)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save folder: %w", result.Error)
	}

	return nil
}

func (r *folderRepository) SaveTx(tx *gorm.DB, folder *models.Folder) error {
	folder.UpdatedAt = utils.Now()
	if err := tx.Save(folder).Error; err != nil {
		return fmt.Errorf("failed to save folder: %w", err)
	}
	return nil
}
