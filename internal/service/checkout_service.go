package service

import (
	"context"
	"errors"
	"fmt"

	"offerledger/internal/infrastructure/payment"
	"offerledger/internal/model"
	"offerledger/internal/repository"
	"offerledger/pkg/amount"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckoutService 购买点数
// 这里只创建支付会话，点数到账由回调驱动（Reconciler）
type CheckoutService struct {
	processor    payment.Processor
	plans        *PlanTable
	ledger       *LedgerService
	accountRepo  *repository.AccountRepository
	checkoutRepo *repository.CheckoutRepository
	log          *zap.Logger
}

func NewCheckoutService(db *gorm.DB, processor payment.Processor, plans *PlanTable, ledger *LedgerService, log *zap.Logger) *CheckoutService {
	return &CheckoutService{
		processor:    processor,
		plans:        plans,
		ledger:       ledger,
		accountRepo:  repository.NewAccountRepository(db),
		checkoutRepo: repository.NewCheckoutRepository(db),
		log:          log.Named("checkout"),
	}
}

type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CreateCheckout 首次购买时才在渠道侧创建 customer
func (s *CheckoutService) CreateCheckout(ctx context.Context, accountID, planID string) (*CheckoutResult, error) {
	plan, err := s.plans.Lookup(planID)
	if err != nil {
		return nil, err
	}

	account, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	customerRef := account.ExternalCustomerRef
	if customerRef == "" {
		customerRef, err = s.ensureCustomer(ctx, accountID)
		if err != nil {
			return nil, err
		}
	}

	session, err := s.processor.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		AccountID:   accountID,
		CustomerRef: customerRef,
		PlanID:      plan.ID,
		Mode:        plan.Mode,
	})
	if err != nil {
		return nil, processorError(err)
	}

	s.log.Info("创建支付会话", zap.String("account_id", accountID), zap.String("plan_id", plan.ID), zap.String("session_id", session.ID))
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

func (s *CheckoutService) ensureCustomer(ctx context.Context, accountID string) (string, error) {
	ref, err := s.processor.CreateCustomer(ctx, accountID)
	if err != nil {
		return "", processorError(err)
	}
	if err := s.accountRepo.SetCustomerRef(ctx, accountID, ref); err != nil {
		if !errors.Is(err, repository.ErrStatusTransitioned) {
			return "", err
		}
		// 并发请求已写入，以库里的为准
		account, getErr := s.accountRepo.GetByID(ctx, nil, accountID)
		if getErr != nil {
			return "", getErr
		}
		return account.ExternalCustomerRef, nil
	}
	return ref, nil
}

type SessionStatus struct {
	SessionID string         `json:"session_id"`
	Paid      bool           `json:"paid"`
	PlanID    string         `json:"plan_id"`
	PlanName  string         `json:"plan_name,omitempty"`
	Credits   amount.Credits `json:"credits"`
}

// VerifySession 支付成功页查询会话状态，只读，不影响余额
func (s *CheckoutService) VerifySession(ctx context.Context, accountID, sessionID string) (*SessionStatus, error) {
	session, err := s.processor.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, processorError(err)
	}
	if session.AccountID != accountID {
		return nil, ErrSessionNotOwned
	}

	status := &SessionStatus{SessionID: session.ID, Paid: session.Paid, PlanID: session.PlanID}
	if plan, err := s.plans.Lookup(session.PlanID); err == nil {
		status.PlanName = plan.Name
		status.Credits = plan.Credits
	}
	return status, nil
}

// History 购买记录，最新的在前
func (s *CheckoutService) History(ctx context.Context, accountID string, limit int) ([]*model.CheckoutEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.checkoutRepo.ListByAccount(ctx, accountID, limit)
}

// Plans 可购买的套餐
func (s *CheckoutService) Plans() []Plan {
	return s.plans.List()
}

// processorError 渠道不可用统一转成 ErrProcessorUnavailable
func processorError(err error) error {
	switch {
	case errors.Is(err, payment.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	case errors.Is(err, payment.ErrInvalidRequest):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	default:
		return err
	}
}
