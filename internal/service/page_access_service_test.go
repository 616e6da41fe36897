package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"offerledger/internal/model"
	"offerledger/pkg/amount"
)

func TestChargeForPage(t *testing.T) {
	cases := []struct {
		page, onPage, total int
		want                int64
	}{
		{page: 1, onPage: 3, total: 3, want: 3},
		{page: 1, onPage: 5, total: 12, want: 5},
		{page: 2, onPage: 5, total: 12, want: 5},
		{page: 3, onPage: 2, total: 12, want: 2},
		{page: 1, onPage: 5, total: 5, want: 5},
	}
	for _, c := range cases {
		got := ChargeForPage(c.page, c.onPage, c.total, 5)
		if got != amount.WholeCredits(c.want) {
			t.Errorf("page %d of %d items: want %d credits, got %s", c.page, c.total, c.want, got)
		}
	}
}

func TestPageAccessFirstVisitChargesPerPage(t *testing.T) {
	e := newTestEnv(t)
	e.seedItems("mit", 12, "alice", "bob", "carol")
	e.fund("viewer", 20)

	first, err := e.pages.RequestPageAccess(e.ctx, PageAccessRequest{ViewerID: "viewer", CollectionKey: "mit", Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Granted || first.Reason != ReasonCharged {
		t.Fatalf("expected charged access, got %+v", first)
	}
	if first.CreditsCharged != amount.WholeCredits(5) || first.BalanceAfter != amount.WholeCredits(15) {
		t.Fatalf("unexpected charge %s / balance %s", first.CreditsCharged, first.BalanceAfter)
	}
	if len(first.Items) != 5 || first.TotalPages != 3 || first.TotalItems != 12 {
		t.Fatalf("unexpected page shape: %d items, %d pages", len(first.Items), first.TotalPages)
	}
	if first.Distribution == nil || len(first.Distribution.Credited) == 0 {
		t.Fatalf("expected owners to be credited, got %+v", first.Distribution)
	}

	// 同一次访问内，第二页照常收费
	second, err := e.pages.RequestPageAccess(e.ctx, PageAccessRequest{ViewerID: "viewer", CollectionKey: "mit", Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if second.Reason != ReasonCharged || second.BalanceAfter != amount.WholeCredits(10) {
		t.Fatalf("expected page 2 to be charged, got %+v", second)
	}

	// 回到已付费的页面不再收费
	back, err := e.pages.RequestPageAccess(e.ctx, PageAccessRequest{ViewerID: "viewer", CollectionKey: "mit", Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !back.Granted || back.Reason != ReasonAlreadyPaidPage || back.CreditsCharged != 0 {
		t.Fatalf("expected already-paid page, got %+v", back)
	}
	if back.Distribution != nil {
		t.Fatal("free access must not distribute revenue")
	}
	if len(back.Items) != 5 || back.Items[0].ID != first.Items[0].ID {
		t.Fatal("viewer must see the same ordering on every request")
	}

	// 首次访问窗口过后，整个集合免费
	past := time.Now().Add(-2 * time.Minute)
	if err := e.db.Model(&model.CollectionVisit{}).
		Where("collection_key = ? AND viewer_id = ?", "mit", "viewer").
		Update("unlocked_at", &past).Error; err != nil {
		t.Fatal(err)
	}
	third, err := e.pages.RequestPageAccess(e.ctx, PageAccessRequest{ViewerID: "viewer", CollectionKey: "mit", Page: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !third.Granted || third.Reason != ReasonFreeReturnVisit || third.BalanceAfter != amount.WholeCredits(10) {
		t.Fatalf("expected free return visit, got %+v", third)
	}
	if len(third.Items) != 2 {
		t.Fatalf("expected 2 items on last page, got %d", len(third.Items))
	}

	if got := e.account("viewer").SpendableCredits; got != amount.WholeCredits(10) {
		t.Fatalf("expected 10 credits left, got %s", got)
	}
	if n := e.outboxCount(model.EventPageUnlocked); n != 2 {
		t.Fatalf("expected 2 page.unlocked events, got %d", n)
	}
}

func TestPageAccessSmallCollection(t *testing.T) {
	e := newTestEnv(t)
	e.seedItems("tiny", 3, "alice")
	e.fund("viewer", 10)

	res, err := e.pages.RequestPageAccess(e.ctx, PageAccessRequest{ViewerID: "viewer", CollectionKey: "tiny", Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.CreditsCharged != amount.WholeCredits(3) || res.TotalPages != 1 {
		t.Fatalf("expected 3 credits for a 3 item collection, got %+v", res)
	}

	_, err = e.pages.RequestPageAccess(e.ctx, PageAccessRequest{ViewerID: "viewer", CollectionKey: "tiny", Page: 2})
	if !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
}

func TestPageAccessInsufficientCredits(t *testing.T) {
	e := newTestEnv(t)
	e.seedItems("mit", 12, "alice")
	e.fund("viewer", 2)

	res, err := e.pages.RequestPageAccess(e.ctx, PageAccessRequest{ViewerID: "viewer", CollectionKey: "mit", Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Granted || res.Reason != ReasonInsufficientCredits {
		t.Fatalf("expected denial, got %+v", res)
	}
	if res.Required != amount.WholeCredits(5) || res.BalanceAfter != amount.WholeCredits(2) {
		t.Fatalf("unexpected required %s / balance %s", res.Required, res.BalanceAfter)
	}
	if len(res.Items) != 0 {
		t.Fatal("denied access must not reveal items")
	}

	var grants int64
	e.db.Model(&model.ViewGrant{}).Count(&grants)
	if grants != 0 {
		t.Fatalf("denied access must not create a grant, got %d", grants)
	}
	var attributions int64
	e.db.Model(&model.AttributionRecord{}).Count(&attributions)
	if attributions != 0 {
		t.Fatalf("owner must not be paid on denial, got %d attributions", attributions)
	}
}

func TestPageAccessUnknownCollection(t *testing.T) {
	e := newTestEnv(t)
	e.fund("viewer", 10)

	_, err := e.pages.RequestPageAccess(e.ctx, PageAccessRequest{ViewerID: "viewer", CollectionKey: "nowhere", Page: 1})
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestPageAccessRejectsConcurrentUnlock(t *testing.T) {
	e := newTestEnv(t)
	e.seedItems("mit", 5, "alice")
	e.fund("viewer", 10)

	e.mr.Set(fmt.Sprintf("unlock:lock:%s:%d:%s", "mit", 1, "viewer"), "someone-else")

	_, err := e.pages.RequestPageAccess(e.ctx, PageAccessRequest{ViewerID: "viewer", CollectionKey: "mit", Page: 1})
	if !errors.Is(err, ErrUnlockInProgress) {
		t.Fatalf("expected ErrUnlockInProgress, got %v", err)
	}
	if got := e.account("viewer").SpendableCredits; got != amount.WholeCredits(10) {
		t.Fatalf("balance must be untouched, got %s", got)
	}
}

func TestGateChargesOncePerPage(t *testing.T) {
	e := newTestEnv(t)
	e.fund("viewer", 20)

	req := PageRequest{ViewerID: "viewer", CollectionKey: "mit", Page: 2, ItemsOnPage: 4, TotalItems: 9, Seed: "s"}
	first, err := e.gate.ResolveAccess(e.ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.gate.ResolveAccess(e.ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Reason != ReasonCharged || second.Reason != ReasonAlreadyPaidPage {
		t.Fatalf("unexpected reasons %s then %s", first.Reason, second.Reason)
	}
	if got := e.account("viewer").SpendableCredits; got != amount.WholeCredits(16) {
		t.Fatalf("expected a single 4 credit charge, got balance %s", got)
	}
}
