package service

import (
	"errors"
	"fmt"
	"testing"

	"offerledger/internal/infrastructure/payment"
	"offerledger/pkg/amount"
)

func TestCreateCheckoutCreatesCustomerOnce(t *testing.T) {
	e := newTestEnv(t)

	first, err := e.checkout.CreateCheckout(e.ctx, "buyer", testPlanSmall)
	if err != nil {
		t.Fatal(err)
	}
	if first.SessionID == "" || first.URL == "" {
		t.Fatalf("unexpected checkout result %+v", first)
	}
	customer := e.account("buyer").ExternalCustomerRef
	if customer == "" {
		t.Fatal("customer ref must be stored")
	}

	if _, err := e.checkout.CreateCheckout(e.ctx, "buyer", testPlanLarge); err != nil {
		t.Fatal(err)
	}
	if len(e.processor.Customers) != 1 {
		t.Fatalf("expected a single customer, got %d", len(e.processor.Customers))
	}
	if got := e.account("buyer").ExternalCustomerRef; got != customer {
		t.Fatalf("customer ref changed from %s to %s", customer, got)
	}
}

func TestCreateCheckoutErrors(t *testing.T) {
	e := newTestEnv(t)

	if _, err := e.checkout.CreateCheckout(e.ctx, "buyer", "price_unknown"); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}

	e.processor.Err = fmt.Errorf("stripe down: %w", payment.ErrUnavailable)
	if _, err := e.checkout.CreateCheckout(e.ctx, "buyer", testPlanSmall); !errors.Is(err, ErrProcessorUnavailable) {
		t.Fatalf("expected ErrProcessorUnavailable, got %v", err)
	}
}

func TestVerifySession(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.checkout.CreateCheckout(e.ctx, "buyer", testPlanLarge)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.checkout.VerifySession(e.ctx, "someone-else", res.SessionID); !errors.Is(err, ErrSessionNotOwned) {
		t.Fatalf("expected ErrSessionNotOwned, got %v", err)
	}

	status, err := e.checkout.VerifySession(e.ctx, "buyer", res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Paid {
		t.Fatal("session must not be paid yet")
	}

	e.processor.MarkSessionPaid(res.SessionID)
	status, err = e.checkout.VerifySession(e.ctx, "buyer", res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Paid || status.Credits != amount.WholeCredits(100) || status.PlanName != "Standard Pack" {
		t.Fatalf("unexpected session status %+v", status)
	}

	// 查询会话不影响余额，到账只走回调
	if got := e.account("buyer").SpendableCredits; got != 0 {
		t.Fatalf("verification must not grant credits, got %s", got)
	}
}

func TestPlansKeepConfiguredOrder(t *testing.T) {
	e := newTestEnv(t)

	plans := e.checkout.Plans()
	if len(plans) != 2 || plans[0].ID != testPlanSmall || plans[1].ID != testPlanLarge {
		t.Fatalf("unexpected plans %+v", plans)
	}
	if plans[0].Mode != "payment" {
		t.Fatalf("expected default mode payment, got %s", plans[0].Mode)
	}
}
