package service

import (
	"errors"
	"sync"
	"testing"

	"offerledger/internal/model"
	"offerledger/internal/repository"
	"offerledger/pkg/amount"
)

func TestDebitNeverGoesNegative(t *testing.T) {
	e := newTestEnv(t)
	e.fund("viewer", 3)

	_, err := e.ledger.Debit(e.ctx, nil, "viewer", amount.WholeCredits(5), "page:x")
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatal("InsufficientCreditsError must match ErrInsufficientCredits")
	}
	if insufficient.Required != amount.WholeCredits(5) || insufficient.Balance != amount.WholeCredits(3) {
		t.Fatalf("unexpected error detail %+v", insufficient)
	}
	if got := e.account("viewer").SpendableCredits; got != amount.WholeCredits(3) {
		t.Fatalf("failed debit changed balance to %s", got)
	}

	after, err := e.ledger.Debit(e.ctx, nil, "viewer", amount.WholeCredits(3), "page:y")
	if err != nil {
		t.Fatal(err)
	}
	if after != 0 {
		t.Fatalf("expected zero balance, got %s", after)
	}
}

func TestConcurrentDebitsRespectBalance(t *testing.T) {
	e := newTestEnv(t)
	e.fund("viewer", 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.ledger.Debit(e.ctx, nil, "viewer", amount.WholeCredits(3), "page"); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 3 {
		t.Fatalf("expected 3 successful debits out of 10 credits, got %d", success)
	}
	if got := e.account("viewer").SpendableCredits; got != amount.WholeCredits(1) {
		t.Fatalf("expected 1 credit left, got %s", got)
	}
}

func TestGrantCreditsIsIdempotent(t *testing.T) {
	e := newTestEnv(t)

	after, err := e.ledger.GrantCredits(e.ctx, "buyer", amount.WholeCredits(50), "cs_1", testPlanSmall)
	if err != nil {
		t.Fatal(err)
	}
	if after != amount.WholeCredits(50) {
		t.Fatalf("expected 50 credits, got %s", after)
	}

	if _, err := e.ledger.GrantCredits(e.ctx, "buyer", amount.WholeCredits(50), "cs_1", testPlanSmall); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	if got := e.account("buyer").SpendableCredits; got != amount.WholeCredits(50) {
		t.Fatalf("replayed grant changed balance to %s", got)
	}
	if n := e.outboxCount(model.EventCreditsGranted); n != 1 {
		t.Fatalf("expected one credits.granted event, got %d", n)
	}
}

func TestCashHoldJournal(t *testing.T) {
	e := newTestEnv(t)
	e.giveCash("owner", 30)

	held, err := e.ledger.ResetCashToZero(e.ctx, nil, "owner", "payout:p1")
	if err != nil {
		t.Fatal(err)
	}
	if held != 30 {
		t.Fatalf("expected 30 cents held, got %s", held)
	}
	a := e.account("owner")
	if a.AccruedCash != 0 || a.InFlightCash != 30 {
		t.Fatalf("unexpected balances cash=%s in_flight=%s", a.AccruedCash, a.InFlightCash)
	}

	// 没有可提现现金时不做任何变动
	again, err := e.ledger.ResetCashToZero(e.ctx, nil, "owner", "payout:p2")
	if err != nil || again != 0 {
		t.Fatalf("expected no-op, got %s %v", again, err)
	}

	if err := e.ledger.SettleCashHold(e.ctx, nil, "owner", 30, "payout:p1"); err != nil {
		t.Fatal(err)
	}
	a = e.account("owner")
	if a.AccruedCash != 0 || a.InFlightCash != 0 {
		t.Fatalf("unexpected balances after settle cash=%s in_flight=%s", a.AccruedCash, a.InFlightCash)
	}

	ledgerRepo := repository.NewLedgerRepository(e.db)
	cash, err := ledgerRepo.SumByBalance(e.ctx, "owner", model.BalanceCash)
	if err != nil {
		t.Fatal(err)
	}
	inFlight, err := ledgerRepo.SumByBalance(e.ctx, "owner", model.BalanceInFlight)
	if err != nil {
		t.Fatal(err)
	}
	if cash != int64(a.AccruedCash) || inFlight != int64(a.InFlightCash) {
		t.Fatalf("journal does not add up: cash=%d in_flight=%d", cash, inFlight)
	}
}

func TestReleaseCashHoldRestoresCash(t *testing.T) {
	e := newTestEnv(t)
	e.giveCash("owner", 20)

	if _, err := e.ledger.ResetCashToZero(e.ctx, nil, "owner", "payout:p1"); err != nil {
		t.Fatal(err)
	}
	if err := e.ledger.ReleaseCashHold(e.ctx, nil, "owner", 20, "payout:p1"); err != nil {
		t.Fatal(err)
	}
	a := e.account("owner")
	if a.AccruedCash != 20 || a.InFlightCash != 0 {
		t.Fatalf("unexpected balances cash=%s in_flight=%s", a.AccruedCash, a.InFlightCash)
	}
}
