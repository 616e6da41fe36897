package repository

import (
	"context"
	"errors"
	"time"

	"offerledger/internal/model"

	"gorm.io/gorm"
)

var ErrContentNotFound = errors.New("内容不存在")

type ContentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

func (r *ContentRepository) Create(ctx context.Context, item *model.ContentItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *ContentRepository) GetByID(ctx context.Context, id string) (*model.ContentItem, error) {
	var item model.ContentItem
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	return &item, nil
}

// ListServable 集合内可展示的内容（已通过或历史无状态）
func (r *ContentRepository) ListServable(ctx context.Context, collectionKey string) ([]*model.ContentItem, error) {
	var items []*model.ContentItem
	err := r.db.WithContext(ctx).
		Where("collection_key = ? AND status IN ?", collectionKey,
			[]string{model.ContentStatusApproved, model.ContentStatusUnset}).
		Find(&items).Error
	return items, err
}

// UpdateStatus 审核，条件更新保证已通过的内容不会再被改动
func (r *ContentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id, status string) error {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.ContentItem{}).
		Where("id = ? AND status <> ?", id, model.ContentStatusApproved).
		Updates(map[string]interface{}{
			"status":       status,
			"moderated_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusTransitioned
	}
	return nil
}
