package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/metrics"
	"offerledger/internal/model"
	"offerledger/internal/repository"
	"offerledger/pkg/amount"
	"offerledger/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 账本
// ============================================================================
//
// 所有余额变动都走这里：
//   1. 行锁读出变动前余额
//   2. 条件 UPDATE（余额 >= 扣减额 才生效），不会出现负数
//   3. 追加一条流水
//
// 传入 tx 时加入调用方事务，否则自己开事务。
// ============================================================================

type LedgerService struct {
	db           *gorm.DB
	accountRepo  *repository.AccountRepository
	ledgerRepo   *repository.LedgerRepository
	checkoutRepo *repository.CheckoutRepository
	events       *eventWriter
	log          *zap.Logger
}

func NewLedgerService(db *gorm.DB, cfg *config.Config, log *zap.Logger) *LedgerService {
	return &LedgerService{
		db:           db,
		accountRepo:  repository.NewAccountRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		checkoutRepo: repository.NewCheckoutRepository(db),
		events:       newEventWriter(db, cfg.Kafka.Topic.LedgerEvents),
		log:          log.Named("ledger"),
	}
}

func (s *LedgerService) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// Account 读取账户，不存在则创建
func (s *LedgerService) Account(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		return nil, ErrInvalidInput
	}
	return s.accountRepo.GetOrCreate(ctx, accountID)
}

func (s *LedgerService) journal(ctx context.Context, tx *gorm.DB, accountID, balance, entryType string, delta, before int64, ref string) error {
	entry := &model.LedgerEntry{
		EntryNo:   idgen.GenerateEntryNo(),
		AccountID: accountID,
		Balance:   balance,
		Type:      entryType,
		Amount:    delta,
		Before:    before,
		After:     before + delta,
		Reference: ref,
	}
	if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
		return fmt.Errorf("记录流水失败: %w", err)
	}
	return nil
}

// Debit 扣减点数，返回扣减后余额
// 余额不足返回 *InsufficientCreditsError
func (s *LedgerService) Debit(ctx context.Context, tx *gorm.DB, accountID string, credits amount.Credits, ref string) (amount.Credits, error) {
	if credits < 0 {
		return 0, ErrInvalidInput
	}

	var after amount.Credits
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}

		if err := s.accountRepo.DeductCredits(ctx, tx, accountID, credits); err != nil {
			if errors.Is(err, repository.ErrCreditsNotEnough) {
				return &InsufficientCreditsError{Required: credits, Balance: account.SpendableCredits}
			}
			return fmt.Errorf("扣减点数失败: %w", err)
		}

		after = account.SpendableCredits - credits
		return s.journal(ctx, tx, accountID, model.BalanceCredits, model.EntryTypePageCharge,
			-int64(credits), int64(account.SpendableCredits), ref)
	})
	if err != nil {
		return 0, err
	}
	return after, nil
}

// CreditCash 增加可提现现金，返回增加后余额
func (s *LedgerService) CreditCash(ctx context.Context, tx *gorm.DB, accountID string, cents amount.Cents, ref string) (amount.Cents, error) {
	if cents <= 0 {
		return 0, ErrInvalidInput
	}

	var after amount.Cents
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := s.accountRepo.IncreaseCash(ctx, tx, accountID, cents); err != nil {
			return fmt.Errorf("增加现金失败: %w", err)
		}
		after = account.AccruedCash + cents
		return s.journal(ctx, tx, accountID, model.BalanceCash, model.EntryTypeAttribution,
			int64(cents), int64(account.AccruedCash), ref)
	})
	if err != nil {
		return 0, err
	}
	return after, nil
}

// GrantCredits 购买到账，idempotencyKey 为支付会话 ID
// 会话已处理过时返回 ErrAlreadyApplied，余额不变
func (s *LedgerService) GrantCredits(ctx context.Context, accountID string, credits amount.Credits, idempotencyKey, planID string) (amount.Credits, error) {
	if credits <= 0 || idempotencyKey == "" {
		return 0, ErrInvalidInput
	}
	// 付款人一定登录过，这里兜底建账户
	if _, err := s.accountRepo.GetOrCreate(ctx, accountID); err != nil {
		return 0, err
	}

	var after amount.Credits
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.checkoutRepo.Claim(ctx, tx, &model.CheckoutEvent{
			SessionID:      idempotencyKey,
			AccountID:      accountID,
			PlanID:         planID,
			CreditsGranted: credits,
			ProcessedAt:    time.Now(),
		})
		if err != nil {
			return fmt.Errorf("记录支付会话失败: %w", err)
		}
		if !claimed {
			return ErrAlreadyApplied
		}

		account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := s.accountRepo.IncreaseCredits(ctx, tx, accountID, credits); err != nil {
			return fmt.Errorf("增加点数失败: %w", err)
		}
		after = account.SpendableCredits + credits

		if err := s.journal(ctx, tx, accountID, model.BalanceCredits, model.EntryTypeCreditGrant,
			int64(credits), int64(account.SpendableCredits), idempotencyKey); err != nil {
			return err
		}

		return s.events.write(ctx, tx, model.EventCreditsGranted, accountID, map[string]interface{}{
			"account_id":    accountID,
			"session_id":    idempotencyKey,
			"plan_id":       planID,
			"credits":       credits,
			"balance_after": after,
		})
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyApplied) {
			s.log.Info("支付会话已处理，跳过", zap.String("session_id", idempotencyKey))
		}
		return 0, err
	}

	metrics.CreditsGranted.Add(float64(credits))
	s.log.Info("点数到账",
		zap.String("account_id", accountID),
		zap.String("session_id", idempotencyKey),
		zap.Stringer("credits", credits),
		zap.Stringer("balance_after", after),
	)
	return after, nil
}

// ResetCashToZero 提现时把全部可提现现金转入冻结，返回冻结金额
// 可提现余额为 0 时返回 0，不做任何变动
func (s *LedgerService) ResetCashToZero(ctx context.Context, tx *gorm.DB, accountID, ref string) (amount.Cents, error) {
	var held amount.Cents
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account.AccruedCash <= 0 {
			return nil
		}

		held = account.AccruedCash
		if err := s.accountRepo.HoldCash(ctx, tx, accountID, held); err != nil {
			return fmt.Errorf("冻结现金失败: %w", err)
		}
		if err := s.journal(ctx, tx, accountID, model.BalanceCash, model.EntryTypePayoutHold,
			-int64(held), int64(account.AccruedCash), ref); err != nil {
			return err
		}
		return s.journal(ctx, tx, accountID, model.BalanceInFlight, model.EntryTypePayoutHold,
			int64(held), int64(account.InFlightCash), ref)
	})
	if err != nil {
		return 0, err
	}
	return held, nil
}

// ReleaseCashHold 提现失败，冻结金额退回
func (s *LedgerService) ReleaseCashHold(ctx context.Context, tx *gorm.DB, accountID string, cents amount.Cents, ref string) error {
	return s.inTx(ctx, tx, func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := s.accountRepo.ReleaseHold(ctx, tx, accountID, cents); err != nil {
			return fmt.Errorf("退回冻结失败: %w", err)
		}
		if err := s.journal(ctx, tx, accountID, model.BalanceInFlight, model.EntryTypePayoutRelease,
			-int64(cents), int64(account.InFlightCash), ref); err != nil {
			return err
		}
		return s.journal(ctx, tx, accountID, model.BalanceCash, model.EntryTypePayoutRelease,
			int64(cents), int64(account.AccruedCash), ref)
	})
}

// SettleCashHold 提现成功，冻结金额核销
func (s *LedgerService) SettleCashHold(ctx context.Context, tx *gorm.DB, accountID string, cents amount.Cents, ref string) error {
	return s.inTx(ctx, tx, func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := s.accountRepo.SettleHold(ctx, tx, accountID, cents); err != nil {
			return fmt.Errorf("核销冻结失败: %w", err)
		}
		return s.journal(ctx, tx, accountID, model.BalanceInFlight, model.EntryTypePayoutSettle,
			-int64(cents), int64(account.InFlightCash), ref)
	})
}

// Journal 账户流水，按时间倒序
func (s *LedgerService) Journal(ctx context.Context, accountID string, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return s.ledgerRepo.ListByAccount(ctx, accountID, page, pageSize)
}
