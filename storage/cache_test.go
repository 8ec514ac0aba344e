package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richinex/tsgpipe/document"
)

func TestCacheSessionStoreSaveAndGet(t *testing.T) {
	store := NewCacheSessionStore(time.Hour)
	ctx := context.Background()

	sess := &Session{ID: "s1", State: "RESEARCH", Review: &document.Review{Suggestions: []string{"a"}}}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	sess.State = "mutated"
	sess.Review.Suggestions[0] = "mutated"

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != "RESEARCH" || got.Review.Suggestions[0] != "a" {
		t.Errorf("store shared state with caller: %+v", got)
	}

	got.State = "changed"
	again, _ := store.Get(ctx, "s1")
	if again.State != "RESEARCH" {
		t.Error("store shared state with reader")
	}
}

func TestCacheSessionStoreNotFound(t *testing.T) {
	store := NewCacheSessionStore(time.Hour)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := store.Save(context.Background(), &Session{}); err == nil {
		t.Error("expected error for session without id")
	}
}

func TestCacheSessionStoreExpiry(t *testing.T) {
	store := NewCacheSessionStore(20 * time.Millisecond)
	ctx := context.Background()
	if err := store.Save(ctx, &Session{ID: "s1"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected expired session, got %v", err)
	}
	if ids, _ := store.List(ctx); len(ids) != 0 {
		t.Errorf("expected no sessions, got %v", ids)
	}
}

func TestCacheSessionStoreListAndDelete(t *testing.T) {
	store := NewCacheSessionStore(time.Hour)
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		if err := store.Save(ctx, &Session{ID: id}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ids, _ := store.List(ctx)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("unexpected ids %v", ids)
	}
}
