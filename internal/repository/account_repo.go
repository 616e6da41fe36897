package repository

import (
	"context"
	"errors"

	"offerledger/internal/model"
	"offerledger/pkg/amount"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound    = errors.New("账户不存在")
	ErrCreditsNotEnough   = errors.New("点数余额不足")
	ErrCashNotEnough      = errors.New("现金余额不足")
	ErrHoldNotEnough      = errors.New("冻结金额不足")
	ErrNegativeAmount     = errors.New("金额不能为负")
	ErrStatusTransitioned = errors.New("状态已变更")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByIDForUpdate 行锁读取，必须在事务内调用
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByDestinationRef(ctx context.Context, ref string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("payout_destination_ref = ?", ref).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate 首次登录时创建账户，并发创建靠主键冲突兜底
func (r *AccountRepository) GetOrCreate(ctx context.Context, id string) (*model.Account, error) {
	account, err := r.GetByID(ctx, nil, id)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		ID:                      id,
		PayoutDestinationStatus: model.DestinationStatusNone,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error
	if err != nil {
		return nil, err
	}

	return r.GetByID(ctx, nil, id)
}

// DeductCredits 条件扣减：spendable_credits >= amount 才会更新
// 余额检查和扣减在同一条 UPDATE 里完成，不会出现负数
func (r *AccountRepository) DeductCredits(ctx context.Context, tx *gorm.DB, id string, credits amount.Credits) error {
	if credits < 0 {
		return ErrNegativeAmount
	}
	db := r.conn(tx)
	result := db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND spendable_credits >= ?", id, credits).
		Updates(map[string]interface{}{
			"spendable_credits": gorm.Expr("spendable_credits - ?", credits),
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, db, id); err != nil {
			return err
		}
		return ErrCreditsNotEnough
	}
	return nil
}

func (r *AccountRepository) IncreaseCredits(ctx context.Context, tx *gorm.DB, id string, credits amount.Credits) error {
	if credits < 0 {
		return ErrNegativeAmount
	}
	return r.increase(ctx, tx, id, "spendable_credits", int64(credits))
}

func (r *AccountRepository) IncreaseCash(ctx context.Context, tx *gorm.DB, id string, cents amount.Cents) error {
	if cents < 0 {
		return ErrNegativeAmount
	}
	return r.increase(ctx, tx, id, "accrued_cash", int64(cents))
}

func (r *AccountRepository) increase(ctx context.Context, tx *gorm.DB, id, column string, delta int64) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			column:    gorm.Expr(column+" + ?", delta),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// HoldCash 把现金转入冻结：accrued_cash -= amount, in_flight_cash += amount
func (r *AccountRepository) HoldCash(ctx context.Context, tx *gorm.DB, id string, cents amount.Cents) error {
	if cents <= 0 {
		return ErrNegativeAmount
	}
	db := r.conn(tx)
	result := db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND accrued_cash >= ?", id, cents).
		Updates(map[string]interface{}{
			"accrued_cash":   gorm.Expr("accrued_cash - ?", cents),
			"in_flight_cash": gorm.Expr("in_flight_cash + ?", cents),
			"version":        gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, db, id); err != nil {
			return err
		}
		return ErrCashNotEnough
	}
	return nil
}

// ReleaseHold 提现失败，冻结金额退回可提现余额
func (r *AccountRepository) ReleaseHold(ctx context.Context, tx *gorm.DB, id string, cents amount.Cents) error {
	return r.moveHold(ctx, tx, id, cents, true)
}

// SettleHold 提现完成，冻结金额直接扣除
func (r *AccountRepository) SettleHold(ctx context.Context, tx *gorm.DB, id string, cents amount.Cents) error {
	return r.moveHold(ctx, tx, id, cents, false)
}

func (r *AccountRepository) moveHold(ctx context.Context, tx *gorm.DB, id string, cents amount.Cents, refund bool) error {
	if cents <= 0 {
		return ErrNegativeAmount
	}
	updates := map[string]interface{}{
		"in_flight_cash": gorm.Expr("in_flight_cash - ?", cents),
		"version":        gorm.Expr("version + 1"),
	}
	if refund {
		updates["accrued_cash"] = gorm.Expr("accrued_cash + ?", cents)
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND in_flight_cash >= ?", id, cents).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrHoldNotEnough
	}
	return nil
}

func (r *AccountRepository) SetCustomerRef(ctx context.Context, id, ref string) error {
	// 已有的 customer 不覆盖
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND (external_customer_ref = '' OR external_customer_ref IS NULL)", id).
		Update("external_customer_ref", ref)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusTransitioned
	}
	return nil
}

func (r *AccountRepository) SetPayoutDestination(ctx context.Context, id, ref, status string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payout_destination_ref":    ref,
			"payout_destination_status": status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) SetDestinationStatus(ctx context.Context, tx *gorm.DB, id, status string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update("payout_destination_status", status).Error
}

func (r *AccountRepository) SetReviewStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update("review_status", status).Error
}
