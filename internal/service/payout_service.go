package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/lock"
	"offerledger/internal/infrastructure/metrics"
	"offerledger/internal/infrastructure/payment"
	"offerledger/internal/model"
	"offerledger/internal/repository"
	"offerledger/pkg/amount"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 提现结果
const (
	PayoutResultPaid               = "paid"
	PayoutResultOnboardingRequired = "onboarding_required"
	PayoutResultDenied             = "denied"
)

// 拒绝原因
const (
	DenyNoCash      = "no_cash"
	DenyUnderReview = "account_under_review"
)

type PayoutResult struct {
	Status         string       `json:"status"`
	PayoutID       string       `json:"payout_id,omitempty"`
	Amount         amount.Cents `json:"amount,omitempty"`
	OnboardingLink string       `json:"onboarding_link,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

// ============================================================================
// 提现编排
// ============================================================================
//
// 收款账户状态机：
//   NONE               -> 创建收款账户 + 开户链接，不转账
//   PENDING_ONBOARDING -> 查询转账能力，未开通则重新下发开户链接
//   ACTIVE             -> 转账
//
// 转账流程：
//   1. 事务内把全部现金转入冻结并创建 PENDING 提现单
//   2. 事务外调用渠道转账，幂等键为提现单 ID
//   3. 成功：回填转账号，等回调结算
//      收款账户未就绪 / 渠道明确拒绝：提现单置 FAILED，冻结退回
//      结果不确定：保持 PENDING，由补偿任务用同一幂等键重试
// ============================================================================

type PayoutService struct {
	db          *gorm.DB
	rdb         redis.Cmdable
	processor   payment.Processor
	ledger      *LedgerService
	accountRepo *repository.AccountRepository
	payoutRepo  *repository.PayoutRepository
	events      *eventWriter
	currency    string
	log         *zap.Logger
}

func NewPayoutService(db *gorm.DB, rdb redis.Cmdable, processor payment.Processor, ledger *LedgerService, cfg *config.Config, log *zap.Logger) *PayoutService {
	currency := strings.ToLower(cfg.Stripe.Currency)
	if currency == "" {
		currency = "usd"
	}
	return &PayoutService{
		db:          db,
		rdb:         rdb,
		processor:   processor,
		ledger:      ledger,
		accountRepo: repository.NewAccountRepository(db),
		payoutRepo:  repository.NewPayoutRepository(db),
		events:      newEventWriter(db, cfg.Kafka.Topic.LedgerEvents),
		currency:    currency,
		log:         log.Named("payout"),
	}
}

func (s *PayoutService) RequestPayout(ctx context.Context, accountID string) (*PayoutResult, error) {
	account, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.ReviewStatus == model.ReviewStatusPending {
		metrics.Payouts.WithLabelValues("denied").Inc()
		return &PayoutResult{Status: PayoutResultDenied, Reason: DenyUnderReview}, nil
	}
	if account.AccruedCash <= 0 {
		metrics.Payouts.WithLabelValues("denied").Inc()
		return &PayoutResult{Status: PayoutResultDenied, Reason: DenyNoCash}, nil
	}

	if s.rdb != nil {
		lease := lock.NewPayoutLock(s.rdb, accountID, uuid.NewString())
		ok, err := lease.TryLock(ctx)
		switch {
		case err != nil:
			s.log.Warn("获取提现租约失败，继续依赖条件冻结", zap.String("account_id", accountID), zap.Error(err))
		case !ok:
			return nil, ErrPayoutInProgress
		default:
			defer lease.Unlock(context.Background())
		}
	}

	destinationRef, link, err := s.ensureDestination(ctx, account)
	if err != nil {
		return nil, err
	}
	if link != "" {
		metrics.Payouts.WithLabelValues("onboarding_required").Inc()
		return &PayoutResult{Status: PayoutResultOnboardingRequired, OnboardingLink: link}, nil
	}

	rec, err := s.reserve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// 并发请求已经把现金冻结走了
		metrics.Payouts.WithLabelValues("denied").Inc()
		return &PayoutResult{Status: PayoutResultDenied, Reason: DenyNoCash}, nil
	}

	return s.transfer(ctx, rec, destinationRef)
}

// ensureDestination 返回可用的收款账户；需要开户时返回开户链接
func (s *PayoutService) ensureDestination(ctx context.Context, account *model.Account) (string, string, error) {
	ref := account.PayoutDestinationRef

	if ref == "" || account.PayoutDestinationStatus == model.DestinationStatusNone {
		newRef, err := s.processor.CreatePayoutDestination(ctx, account.ID)
		if err != nil {
			return "", "", processorError(err)
		}
		if err := s.accountRepo.SetPayoutDestination(ctx, account.ID, newRef, model.DestinationStatusPendingOnboarding); err != nil {
			return "", "", fmt.Errorf("保存收款账户失败: %w", err)
		}
		link, err := s.processor.CreateOnboardingLink(ctx, newRef)
		if err != nil {
			return "", "", processorError(err)
		}
		s.log.Info("已创建收款账户，等待开户", zap.String("account_id", account.ID), zap.String("destination", newRef))
		return "", link, nil
	}

	if account.PayoutDestinationStatus == model.DestinationStatusPendingOnboarding {
		active, err := s.processor.TransfersActive(ctx, ref)
		if err != nil {
			return "", "", processorError(err)
		}
		if !active {
			link, err := s.processor.CreateOnboardingLink(ctx, ref)
			if err != nil {
				return "", "", processorError(err)
			}
			return "", link, nil
		}
		if err := s.accountRepo.SetDestinationStatus(ctx, nil, account.ID, model.DestinationStatusActive); err != nil {
			return "", "", err
		}
	}
	return ref, "", nil
}

// reserve 冻结全部现金并创建提现单，无现金可冻结时返回 nil
func (s *PayoutService) reserve(ctx context.Context, accountID string) (*model.PayoutRecord, error) {
	payoutID := uuid.NewString()
	var rec *model.PayoutRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		held, err := s.ledger.ResetCashToZero(ctx, tx, accountID, "payout:"+payoutID)
		if err != nil {
			return err
		}
		if held <= 0 {
			return nil
		}

		rec = &model.PayoutRecord{
			ID:        payoutID,
			AccountID: accountID,
			Amount:    held,
			Currency:  s.currency,
			Status:    model.PayoutStatusPending,
		}
		if err := s.payoutRepo.Create(ctx, tx, rec); err != nil {
			return fmt.Errorf("创建提现单失败: %w", err)
		}
		return s.events.write(ctx, tx, model.EventPayoutRequested, accountID, map[string]interface{}{
			"payout_id":  payoutID,
			"account_id": accountID,
			"amount":     held,
			"currency":   s.currency,
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PayoutService) transfer(ctx context.Context, rec *model.PayoutRecord, destinationRef string) (*PayoutResult, error) {
	ref, err := s.processor.CreateTransfer(ctx, payment.TransferRequest{
		IdempotencyKey: rec.ID,
		PayoutID:       rec.ID,
		AccountID:      rec.AccountID,
		DestinationRef: destinationRef,
		Amount:         rec.Amount,
		Currency:       rec.Currency,
	})

	switch {
	case err == nil:
		if err := s.payoutRepo.SetTransferRef(ctx, nil, rec.ID, ref); err != nil {
			// 回调里带有 payoutId，回填失败也能对上
			s.log.Error("回填转账号失败", zap.String("payout_id", rec.ID), zap.String("transfer", ref), zap.Error(err))
		}
		metrics.Payouts.WithLabelValues("paid").Inc()
		s.log.Info("提现转账已提交",
			zap.String("payout_id", rec.ID),
			zap.String("account_id", rec.AccountID),
			zap.Stringer("amount", rec.Amount),
			zap.String("transfer", ref),
		)
		return &PayoutResult{Status: PayoutResultPaid, PayoutID: rec.ID, Amount: rec.Amount}, nil

	case errors.Is(err, payment.ErrDestinationNotReady):
		if failErr := s.fail(ctx, rec, "destination_not_ready"); failErr != nil {
			return nil, failErr
		}
		if err := s.accountRepo.SetDestinationStatus(ctx, nil, rec.AccountID, model.DestinationStatusPendingOnboarding); err != nil {
			return nil, err
		}
		link, err := s.processor.CreateOnboardingLink(ctx, destinationRef)
		if err != nil {
			return nil, processorError(err)
		}
		metrics.Payouts.WithLabelValues("onboarding_required").Inc()
		return &PayoutResult{Status: PayoutResultOnboardingRequired, PayoutID: rec.ID, OnboardingLink: link}, nil

	case errors.Is(err, payment.ErrInvalidRequest):
		if failErr := s.fail(ctx, rec, "rejected"); failErr != nil {
			return nil, failErr
		}
		metrics.Payouts.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPayoutRejected, err)

	default:
		// 结果不确定，保持冻结，补偿任务用同一幂等键重试
		metrics.Payouts.WithLabelValues("unavailable").Inc()
		s.log.Warn("转账结果不确定，等待补偿", zap.String("payout_id", rec.ID), zap.Error(err))
		return nil, processorError(err)
	}
}

// fail 提现单置 FAILED 并退回冻结
func (s *PayoutService) fail(ctx context.Context, rec *model.PayoutRecord, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.payoutRepo.Transition(ctx, tx, rec.ID, model.PayoutStatusFailed, reason)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.ledger.ReleaseCashHold(ctx, tx, rec.AccountID, rec.Amount, "payout:"+rec.ID); err != nil {
			return err
		}
		return s.events.write(ctx, tx, model.EventPayoutSettled, rec.AccountID, map[string]interface{}{
			"payout_id":  rec.ID,
			"account_id": rec.AccountID,
			"amount":     rec.Amount,
			"status":     model.PayoutStatusFailed,
			"reason":     reason,
		})
	})
}

// ResumeTransfer 补偿任务调用：用原幂等键重试卡住的提现单
func (s *PayoutService) ResumeTransfer(ctx context.Context, rec *model.PayoutRecord) error {
	account, err := s.accountRepo.GetByID(ctx, nil, rec.AccountID)
	if err != nil {
		return err
	}
	if account.PayoutDestinationRef == "" {
		return s.fail(ctx, rec, "no_destination")
	}

	_, err = s.transfer(ctx, rec, account.PayoutDestinationRef)
	if errors.Is(err, ErrPayoutRejected) {
		return nil
	}
	return err
}

type DestinationResult struct {
	Status         string `json:"status"`
	OnboardingLink string `json:"onboarding_link,omitempty"`
}

// SetupDestination 设置收款账户，已开通时直接返回 ACTIVE
func (s *PayoutService) SetupDestination(ctx context.Context, accountID string) (*DestinationResult, error) {
	account, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	_, link, err := s.ensureDestination(ctx, account)
	if err != nil {
		return nil, err
	}
	if link != "" {
		return &DestinationResult{Status: model.DestinationStatusPendingOnboarding, OnboardingLink: link}, nil
	}
	return &DestinationResult{Status: model.DestinationStatusActive}, nil
}

// ManageLink 已有收款账户的管理入口
func (s *PayoutService) ManageLink(ctx context.Context, accountID string) (string, error) {
	account, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.PayoutDestinationRef == "" {
		return "", ErrNoPayoutAccount
	}

	var link string
	if account.PayoutDestinationStatus == model.DestinationStatusActive {
		link, err = s.processor.CreateManageLink(ctx, account.PayoutDestinationRef)
	} else {
		link, err = s.processor.CreateOnboardingLink(ctx, account.PayoutDestinationRef)
	}
	if err != nil {
		return "", processorError(err)
	}
	return link, nil
}

// History 提现记录，最新的在前
func (s *PayoutService) History(ctx context.Context, accountID string, limit int) ([]*model.PayoutRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.payoutRepo.ListByAccount(ctx, accountID, limit)
}
