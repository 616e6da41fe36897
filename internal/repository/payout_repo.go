package repository

import (
	"context"
	"errors"
	"time"

	"offerledger/internal/model"

	"gorm.io/gorm"
)

var ErrPayoutNotFound = errors.New("提现单不存在")

type PayoutRepository struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) Create(ctx context.Context, tx *gorm.DB, rec *model.PayoutRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(rec).Error
}

func (r *PayoutRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.PayoutRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var rec model.PayoutRecord
	err := tx.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *PayoutRepository) GetByTransferRef(ctx context.Context, tx *gorm.DB, ref string) (*model.PayoutRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var rec model.PayoutRecord
	err := tx.WithContext(ctx).Where("external_transfer_ref = ?", ref).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// SetTransferRef 转账创建成功后回填渠道转账号
func (r *PayoutRepository) SetTransferRef(ctx context.Context, tx *gorm.DB, id, ref string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.PayoutRecord{}).
		Where("id = ? AND (external_transfer_ref = '' OR external_transfer_ref IS NULL)", id).
		Update("external_transfer_ref", ref).Error
}

// Transition 条件更新 PENDING -> PAID/FAILED
// 返回 false 表示提现单已经不是 PENDING，调用方应当视为重复处理
func (r *PayoutRepository) Transition(ctx context.Context, tx *gorm.DB, id, status, reason string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.PayoutRecord{}).
		Where("id = ? AND status = ?", id, model.PayoutStatusPending).
		Updates(map[string]interface{}{
			"status":         status,
			"failure_reason": reason,
			"settled_at":     &now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListStuck 长时间 PENDING 且没有渠道转账号的提现单
func (r *PayoutRepository) ListStuck(ctx context.Context, before time.Time, limit int) ([]*model.PayoutRecord, error) {
	var recs []*model.PayoutRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND (external_transfer_ref = '' OR external_transfer_ref IS NULL) AND created_at < ?",
			model.PayoutStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *PayoutRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*model.PayoutRecord, error) {
	var recs []*model.PayoutRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
