package repository

import (
	"context"
	"errors"
	"time"

	"offerledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccessRepository 页面解锁记录和集合访问状态
type AccessRepository struct {
	db *gorm.DB
}

func NewAccessRepository(db *gorm.DB) *AccessRepository {
	return &AccessRepository{db: db}
}

func (r *AccessRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// GetVisit 不存在时返回 nil, nil
func (r *AccessRepository) GetVisit(ctx context.Context, tx *gorm.DB, collectionKey, viewerID string) (*model.CollectionVisit, error) {
	var visit model.CollectionVisit
	err := r.conn(tx).WithContext(ctx).
		Where("collection_key = ? AND viewer_id = ?", collectionKey, viewerID).
		First(&visit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &visit, nil
}

// GetOrCreateVisit 首次访问时写入种子；并发写入以先到者为准
func (r *AccessRepository) GetOrCreateVisit(ctx context.Context, collectionKey, viewerID, seed string) (*model.CollectionVisit, error) {
	visit, err := r.GetVisit(ctx, nil, collectionKey, viewerID)
	if err != nil || visit != nil {
		return visit, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.CollectionVisit{
			CollectionKey: collectionKey,
			ViewerID:      viewerID,
			Seed:          seed,
		}).Error
	if err != nil {
		return nil, err
	}
	return r.GetVisit(ctx, nil, collectionKey, viewerID)
}

// MarkUnlocked 标记集合已解锁，已解锁的不会覆盖首次时间
func (r *AccessRepository) MarkUnlocked(ctx context.Context, tx *gorm.DB, collectionKey, viewerID, seed string) error {
	db := r.conn(tx).WithContext(ctx)
	now := time.Now()

	err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.CollectionVisit{
			CollectionKey: collectionKey,
			ViewerID:      viewerID,
			Seed:          seed,
			UnlockedAt:    &now,
		}).Error
	if err != nil {
		return err
	}

	return db.Model(&model.CollectionVisit{}).
		Where("collection_key = ? AND viewer_id = ? AND unlocked_at IS NULL", collectionKey, viewerID).
		Update("unlocked_at", &now).Error
}

func (r *AccessRepository) HasGrant(ctx context.Context, tx *gorm.DB, collectionKey string, page int, viewerID string) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.ViewGrant{}).
		Where("collection_key = ? AND page = ? AND viewer_id = ?", collectionKey, page, viewerID).
		Count(&count).Error
	return count > 0, err
}

// CreateGrant 返回 false 表示该页已被解锁过（唯一键冲突）
func (r *AccessRepository) CreateGrant(ctx context.Context, tx *gorm.DB, grant *model.ViewGrant) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(grant)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
