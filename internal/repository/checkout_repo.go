package repository

import (
	"context"

	"offerledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CheckoutRepository struct {
	db *gorm.DB
}

func NewCheckoutRepository(db *gorm.DB) *CheckoutRepository {
	return &CheckoutRepository{db: db}
}

// Claim 以 session id 为主键插入，返回 false 表示该会话已处理过
func (r *CheckoutRepository) Claim(ctx context.Context, tx *gorm.DB, ev *model.CheckoutEvent) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ev)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *CheckoutRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*model.CheckoutEvent, error) {
	var events []*model.CheckoutEvent
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("processed_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
