package payment

import (
	"context"
	"errors"

	"offerledger/pkg/amount"
)

// 渠道错误分类，业务侧只依赖这几类，不解析渠道原始报错
var (
	// ErrUnavailable 渠道暂时不可用或结果不确定，可重试
	ErrUnavailable = errors.New("支付渠道暂不可用")
	// ErrDestinationNotReady 收款账户未开通转账能力，需要重新走开户流程
	ErrDestinationNotReady = errors.New("收款账户未就绪")
	// ErrInvalidRequest 渠道明确拒绝了请求，重试没有意义
	ErrInvalidRequest = errors.New("支付渠道拒绝请求")
)

// Processor 支付渠道
// 所有方法都可能阻塞在网络调用上，调用方不要在持有数据库锁时调用。
type Processor interface {
	CreateCustomer(ctx context.Context, accountID string) (customerRef string, err error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)

	CreatePayoutDestination(ctx context.Context, accountID string) (destinationRef string, err error)
	CreateOnboardingLink(ctx context.Context, destinationRef string) (url string, err error)
	CreateManageLink(ctx context.Context, destinationRef string) (url string, err error)
	TransfersActive(ctx context.Context, destinationRef string) (bool, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (transferRef string, err error)
}

type CheckoutRequest struct {
	AccountID   string
	CustomerRef string
	PlanID      string // 渠道侧的 price id
	Mode        string // payment / subscription
}

type CheckoutSession struct {
	ID        string
	URL       string
	AccountID string
	PlanID    string
	Paid      bool
}

type TransferRequest struct {
	IdempotencyKey string
	PayoutID       string
	AccountID      string
	DestinationRef string
	Amount         amount.Cents
	Currency       string
}
