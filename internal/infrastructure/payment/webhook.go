package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	ErrInvalidSignature = errors.New("回调签名校验失败")
	ErrMalformedEvent   = errors.New("回调内容无法解析")
)

// 转账结算结果
const (
	TransferPaid   = "paid"
	TransferFailed = "failed"
)

// Event 解析后的渠道回调
// 三个子结构最多只有一个非空；都为空表示我们不关心的事件类型。
type Event struct {
	ID       string
	Type     string
	Checkout *CheckoutCompleted
	Transfer *TransferUpdate
	Account  *AccountUpdate
}

type CheckoutCompleted struct {
	SessionID     string
	AccountID     string
	PlanID        string
	PaymentStatus string
}

// Paid 一次性支付必须是 paid；no_payment_required 只会出现在免费会话上，不发点数
func (c *CheckoutCompleted) Paid() bool {
	return c.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

type TransferUpdate struct {
	TransferRef string
	PayoutID    string
	Status      string // TransferPaid / TransferFailed
	Reason      string
}

type AccountUpdate struct {
	DestinationRef  string
	TransfersActive bool
}

// ConstructEvent 校验签名并解析回调
func ConstructEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decode(&ev)
}

// DecodeUnverified 不校验签名直接解析，只用于开发环境
func DecodeUnverified(payload []byte) (*Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return decode(&ev)
}

type rawCheckoutSession struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

type rawTransfer struct {
	ID       string            `json:"id"`
	Reversed bool              `json:"reversed"`
	Metadata map[string]string `json:"metadata"`
}

type rawAccount struct {
	ID           string `json:"id"`
	Capabilities struct {
		Transfers string `json:"transfers"`
	} `json:"capabilities"`
}

func decode(ev *stripe.Event) (*Event, error) {
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: 缺少事件 id 或类型", ErrMalformedEvent)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}
	raw := ev.Data.Raw

	switch out.Type {
	case "checkout.session.completed":
		var s rawCheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.Checkout = &CheckoutCompleted{
			SessionID:     s.ID,
			AccountID:     s.Metadata[MetadataAccountID],
			PlanID:        s.Metadata[MetadataPlanID],
			PaymentStatus: s.PaymentStatus,
		}

	case "transfer.created", "transfer.paid", "transfer.failed", "transfer.reversed":
		var tr rawTransfer
		if err := json.Unmarshal(raw, &tr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		update := &TransferUpdate{
			TransferRef: tr.ID,
			PayoutID:    tr.Metadata[MetadataPayoutID],
			Status:      TransferPaid,
		}
		if out.Type == "transfer.failed" || out.Type == "transfer.reversed" || tr.Reversed {
			update.Status = TransferFailed
			update.Reason = out.Type
		}
		out.Transfer = update

	case "account.updated":
		var a rawAccount
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.Account = &AccountUpdate{
			DestinationRef:  a.ID,
			TransfersActive: a.Capabilities.Transfers == string(stripe.AccountCapabilityStatusActive),
		}
	}
	return out, nil
}
