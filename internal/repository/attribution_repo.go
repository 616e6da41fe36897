package repository

import (
	"context"

	"offerledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttributionRepository struct {
	db *gorm.DB
}

func NewAttributionRepository(db *gorm.DB) *AttributionRepository {
	return &AttributionRepository{db: db}
}

func (r *AttributionRepository) Exists(ctx context.Context, ownerID, viewerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.AttributionRecord{}).
		Where("owner_id = ? AND viewer_id = ?", ownerID, viewerID).
		Count(&count).Error
	return count > 0, err
}

// CreateIfAbsent 返回 false 表示记录已存在
func (r *AttributionRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, rec *model.AttributionRecord) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *AttributionRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.AttributionRecord{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error
	return count, err
}
