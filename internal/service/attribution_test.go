package service

import (
	"reflect"
	"testing"

	"offerledger/internal/model"
	"offerledger/pkg/amount"
)

func TestDistributeCreditsEachOwnerOnce(t *testing.T) {
	e := newTestEnv(t)

	items := []*model.ContentItem{
		{ID: "1", OwnerID: "bob", Status: model.ContentStatusApproved},
		{ID: "2", OwnerID: "alice", Status: model.ContentStatusApproved},
		{ID: "3", OwnerID: "bob", Status: model.ContentStatusApproved},
		{ID: "4", OwnerID: "viewer", Status: model.ContentStatusApproved},
		{ID: "5", OwnerID: "", Status: model.ContentStatusApproved},
		{ID: "6", OwnerID: "carol", Status: model.ContentStatusRejected},
	}

	report := e.distributor.Distribute(e.ctx, "viewer", "mit", 1, items)
	if !reflect.DeepEqual(report.Credited, []string{"alice", "bob"}) {
		t.Fatalf("unexpected credited owners %v", report.Credited)
	}
	if report.SkippedSelf != 1 || report.SkippedInvalid != 2 {
		t.Fatalf("unexpected skip counts self=%d invalid=%d", report.SkippedSelf, report.SkippedInvalid)
	}
	if report.ShareEach != amount.Cents(10) {
		t.Fatalf("expected a 10 cent share, got %s", report.ShareEach)
	}

	for _, owner := range []string{"alice", "bob"} {
		if got := e.account(owner).AccruedCash; got != 10 {
			t.Fatalf("%s: expected 10 cents, got %s", owner, got)
		}
	}

	// 同一浏览者再看一次，不再分成
	again := e.distributor.Distribute(e.ctx, "viewer", "mit", 2, items)
	if len(again.Credited) != 0 || !reflect.DeepEqual(again.AlreadyCredited, []string{"alice", "bob"}) {
		t.Fatalf("second distribution must be a no-op, got %+v", again)
	}
	if got := e.account("bob").AccruedCash; got != 10 {
		t.Fatalf("bob credited twice: %s", got)
	}

	// 换一个浏览者会再分一次
	other := e.distributor.Distribute(e.ctx, "viewer-2", "mit", 1, items[:1])
	if !reflect.DeepEqual(other.Credited, []string{"bob"}) {
		t.Fatalf("unexpected credited owners %v", other.Credited)
	}
	if got := e.account("bob").AccruedCash; got != 20 {
		t.Fatalf("expected 20 cents for bob, got %s", got)
	}
	if n := e.outboxCount(model.EventRevenueDistributed); n != 3 {
		t.Fatalf("expected 3 revenue.distributed events, got %d", n)
	}
}

func TestMarkCreditedIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	tracker := NewAttributionTracker(e.db)

	rec := func() *model.AttributionRecord {
		return &model.AttributionRecord{OwnerID: "alice", ViewerID: "viewer", CollectionKey: "mit", Page: 1, Amount: 10}
	}
	first, err := tracker.MarkCredited(e.ctx, nil, rec())
	if err != nil || !first {
		t.Fatalf("first mark: %v %v", first, err)
	}
	second, err := tracker.MarkCredited(e.ctx, nil, rec())
	if err != nil || second {
		t.Fatalf("second mark must be a no-op: %v %v", second, err)
	}
	ok, err := tracker.HasCredited(e.ctx, "alice", "viewer")
	if err != nil || !ok {
		t.Fatalf("expected credited, got %v %v", ok, err)
	}
}
