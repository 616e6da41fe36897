package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"offerledger/internal/config"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// 会话 / 转账上携带的元数据键
const (
	MetadataAccountID = "accountId"
	MetadataPlanID    = "planId"
	MetadataPayoutID  = "payoutId"
)

const errCodeInsufficientCapabilities = "insufficient_capabilities_for_transfer"

// StripeProcessor 基于 Stripe Connect 的支付渠道实现
type StripeProcessor struct {
	api *client.API
	cfg config.StripeConfig
}

// NewStripeProcessor backends 为空时使用默认的 Stripe 线上地址
func NewStripeProcessor(cfg config.StripeConfig, backends *stripe.Backends) *StripeProcessor {
	return &StripeProcessor{
		api: client.New(cfg.SecretKey, backends),
		cfg: cfg,
	}
}

func (p *StripeProcessor) CreateCustomer(ctx context.Context, accountID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata(MetadataAccountID, accountID)
	params.SetIdempotencyKey("customer-" + accountID)

	customer, err := p.api.Customers.New(params)
	if err != nil {
		return "", classify("create customer", err)
	}
	return customer.ID, nil
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	mode := req.Mode
	if mode == "" {
		mode = string(stripe.CheckoutSessionModePayment)
	}

	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(req.CustomerRef),
		ClientReferenceID: stripe.String(req.AccountID),
		Mode:              stripe.String(mode),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PlanID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.cfg.SuccessURL),
		CancelURL:  stripe.String(p.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(MetadataAccountID, req.AccountID)
	params.AddMetadata(MetadataPlanID, req.PlanID)

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify("create checkout session", err)
	}
	return toCheckoutSession(session), nil
}

func (p *StripeProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, classify("get checkout session", err)
	}
	return toCheckoutSession(session), nil
}

func toCheckoutSession(s *stripe.CheckoutSession) *CheckoutSession {
	return &CheckoutSession{
		ID:        s.ID,
		URL:       s.URL,
		AccountID: s.Metadata[MetadataAccountID],
		PlanID:    s.Metadata[MetadataPlanID],
		Paid:      s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
}

func (p *StripeProcessor) CreatePayoutDestination(ctx context.Context, accountID string) (string, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{
				Requested: stripe.Bool(true),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataAccountID, accountID)
	params.SetIdempotencyKey("destination-" + accountID)

	acct, err := p.api.Accounts.New(params)
	if err != nil {
		return "", classify("create connected account", err)
	}
	return acct.ID, nil
}

func (p *StripeProcessor) CreateOnboardingLink(ctx context.Context, destinationRef string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(destinationRef),
		RefreshURL: stripe.String(p.cfg.OnboardingRefreshURL),
		ReturnURL:  stripe.String(p.cfg.OnboardingReturnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := p.api.AccountLinks.New(params)
	if err != nil {
		return "", classify("create account link", err)
	}
	return link.URL, nil
}

// CreateManageLink 已开通账户进入 Express 后台
func (p *StripeProcessor) CreateManageLink(ctx context.Context, destinationRef string) (string, error) {
	params := &stripe.LoginLinkParams{
		Account: stripe.String(destinationRef),
	}
	params.Context = ctx

	link, err := p.api.LoginLinks.New(params)
	if err != nil {
		return "", classify("create login link", err)
	}
	return link.URL, nil
}

func (p *StripeProcessor) TransfersActive(ctx context.Context, destinationRef string) (bool, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := p.api.Accounts.GetByID(destinationRef, params)
	if err != nil {
		return false, classify("retrieve account", err)
	}
	if acct.Capabilities == nil {
		return false, nil
	}
	return acct.Capabilities.Transfers == stripe.AccountCapabilityStatusActive, nil
}

func (p *StripeProcessor) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(int64(req.Amount)),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationRef),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(MetadataPayoutID, req.PayoutID)
	params.AddMetadata(MetadataAccountID, req.AccountID)

	transfer, err := p.api.Transfers.New(params)
	if err != nil {
		return "", classify("create transfer", err)
	}
	return transfer.ID, nil
}

// classify 把 Stripe 报错归到三类业务错误
// 网络错误、429、5xx 视为结果不确定，由调用方按可重试处理
func classify(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%s: %w (code=%s)", op, ErrUnavailable, se.Code)
	case se.Code == errCodeInsufficientCapabilities:
		return fmt.Errorf("%s: %w", op, ErrDestinationNotReady)
	case se.Type == stripe.ErrorTypeInvalidRequest || se.Type == stripe.ErrorTypeCard:
		return fmt.Errorf("%s: %w (code=%s)", op, ErrInvalidRequest, se.Code)
	default:
		return fmt.Errorf("%s: %w (type=%s code=%s)", op, ErrUnavailable, se.Type, se.Code)
	}
}
