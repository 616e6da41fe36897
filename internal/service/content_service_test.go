package service

import (
	"encoding/json"
	"errors"
	"testing"

	"offerledger/internal/model"
)

func TestSortForViewerIsStablePerSeed(t *testing.T) {
	build := func() []*model.ContentItem {
		return []*model.ContentItem{
			{ID: "a1", OwnerID: "alice"},
			{ID: "b1", OwnerID: "bob"},
			{ID: "a2", OwnerID: "alice"},
			{ID: "c1", OwnerID: "carol"},
			{ID: "b2", OwnerID: "bob"},
		}
	}

	first, second := build(), build()
	SortForViewer(first, "seed-1")
	SortForViewer(second, "seed-1")
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("same seed produced different order at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}

	// 同一上传者的内容相邻，且按 ID 排序
	pos := map[string]int{}
	for i, item := range first {
		pos[item.ID] = i
	}
	if pos["a2"]-pos["a1"] != 1 || pos["b2"]-pos["b1"] != 1 {
		t.Fatalf("items of one owner must be adjacent: %v", pos)
	}
}

func TestLoadPageKeepsViewerOrdering(t *testing.T) {
	e := newTestEnv(t)
	e.seedItems("mit", 8, "alice", "bob", "carol", "dave")

	first, err := e.content.LoadPage(e.ctx, "mit", "viewer", 1)
	if err != nil {
		t.Fatal(err)
	}
	again, err := e.content.LoadPage(e.ctx, "mit", "viewer", 1)
	if err != nil {
		t.Fatal(err)
	}
	if first.Seed == "" || first.Seed != again.Seed {
		t.Fatalf("seed must be persisted: %q vs %q", first.Seed, again.Seed)
	}
	for i := range first.Items {
		if first.Items[i].ID != again.Items[i].ID {
			t.Fatal("ordering changed between requests")
		}
	}
	if first.TotalPages != 2 {
		t.Fatalf("expected 2 pages, got %d", first.TotalPages)
	}
	if _, err := e.content.LoadPage(e.ctx, "mit", "viewer", 3); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
}

func TestModerationLifecycle(t *testing.T) {
	e := newTestEnv(t)

	item, err := e.content.CreateItem(e.ctx, &CreateItemRequest{
		OwnerID:         "alice",
		CollectionKey:   " mit ",
		InstitutionName: "MIT",
		ExtractedFields: json.RawMessage(`{"aid":"25000"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != model.ContentStatusPending || item.CollectionKey != "mit" {
		t.Fatalf("unexpected new item %+v", item)
	}

	// 待审核的内容不展示
	if _, err := e.content.LoadPage(e.ctx, "mit", "viewer", 1); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("pending content must not be served, got %v", err)
	}

	if _, err := e.content.Moderate(e.ctx, item.ID, "MAYBE"); !errors.Is(err, ErrInvalidModeration) {
		t.Fatalf("expected ErrInvalidModeration, got %v", err)
	}

	approved, err := e.content.Moderate(e.ctx, item.ID, model.ContentStatusApproved)
	if err != nil {
		t.Fatal(err)
	}
	if approved.Status != model.ContentStatusApproved || approved.ModeratedAt == nil {
		t.Fatalf("unexpected moderated item %+v", approved)
	}

	if _, err := e.content.Moderate(e.ctx, item.ID, model.ContentStatusRejected); !errors.Is(err, ErrItemImmutable) {
		t.Fatalf("approved content must be immutable, got %v", err)
	}

	view, err := e.content.LoadPage(e.ctx, "mit", "viewer", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Items) != 1 {
		t.Fatalf("expected the approved item to be served, got %d", len(view.Items))
	}
}

func TestCreateItemRejectsInvalidFields(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.content.CreateItem(e.ctx, &CreateItemRequest{
		OwnerID:         "alice",
		CollectionKey:   "mit",
		ExtractedFields: json.RawMessage(`{not json`),
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
