package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"offerledger/internal/infrastructure/payment"
)

// Fake 内存版支付渠道，记录每次调用
type Fake struct {
	mu sync.Mutex

	Customers     map[string]string // accountID -> customerRef
	Destinations  map[string]string // accountID -> destinationRef
	ActiveRefs    map[string]bool   // destinationRef -> 转账能力已开通
	Sessions      map[string]*payment.CheckoutSession
	Transfers     []payment.TransferRequest
	transferByKey map[string]string

	// 下一次 CreateTransfer 返回的错误，调用后清空
	TransferErr error
	// 非空时所有调用都返回该错误
	Err error

	seq int
}

func New() *Fake {
	return &Fake{
		Customers:     map[string]string{},
		Destinations:  map[string]string{},
		ActiveRefs:    map[string]bool{},
		Sessions:      map[string]*payment.CheckoutSession{},
		transferByKey: map[string]string{},
	}
}

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

// Activate 模拟用户完成开户
func (f *Fake) Activate(destinationRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ActiveRefs[destinationRef] = true
}

// MarkSessionPaid 模拟用户完成支付
func (f *Fake) MarkSessionPaid(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Sessions[sessionID]; ok {
		s.Paid = true
	}
}

func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}

func (f *Fake) CreateCustomer(ctx context.Context, accountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	ref := f.next("cus")
	f.Customers[accountID] = ref
	return ref, nil
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	id := f.next("cs")
	s := &payment.CheckoutSession{
		ID:        id,
		URL:       "https://checkout.test/" + id,
		AccountID: req.AccountID,
		PlanID:    req.PlanID,
	}
	f.Sessions[id] = s
	cp := *s
	return &cp, nil
}

func (f *Fake) GetCheckoutSession(ctx context.Context, sessionID string) (*payment.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s, ok := f.Sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("get checkout session: %w", payment.ErrInvalidRequest)
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) CreatePayoutDestination(ctx context.Context, accountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	ref := f.next("acct")
	f.Destinations[accountID] = ref
	return ref, nil
}

func (f *Fake) CreateOnboardingLink(ctx context.Context, destinationRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	return "https://connect.test/onboarding/" + destinationRef, nil
}

func (f *Fake) CreateManageLink(ctx context.Context, destinationRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	return "https://connect.test/dashboard/" + destinationRef, nil
}

func (f *Fake) TransfersActive(ctx context.Context, destinationRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	return f.ActiveRefs[destinationRef], nil
}

// CreateTransfer 同一个幂等键返回同一笔转账
func (f *Fake) CreateTransfer(ctx context.Context, req payment.TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if err := f.TransferErr; err != nil {
		f.TransferErr = nil
		return "", err
	}
	if ref, ok := f.transferByKey[req.IdempotencyKey]; ok {
		return ref, nil
	}
	if !f.ActiveRefs[req.DestinationRef] {
		return "", fmt.Errorf("create transfer: %w", payment.ErrDestinationNotReady)
	}
	ref := f.next("tr")
	f.transferByKey[req.IdempotencyKey] = ref
	f.Transfers = append(f.Transfers, req)
	return ref, nil
}

var _ payment.Processor = (*Fake)(nil)
