package storage

import (
	"context"
	"testing"
	"time"

	"github.com/richinex/tsgpipe/llm"
)

func TestInMemoryStorageRoundTrip(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()

	history := []llm.ChatMessage{
		llm.SystemMessage("sys"),
		llm.UserMessage("notes"),
		llm.AssistantMessage("draft"),
	}
	if err := s.Save(ctx, "conv_1", history); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Load(ctx, "conv_1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 3 || loaded[2].Content != "draft" {
		t.Errorf("unexpected history %+v", loaded)
	}

	missing, err := s.Load(ctx, "conv_missing")
	if err != nil || missing == nil || len(missing) != 0 {
		t.Errorf("expected empty non-nil slice, got %v (%v)", missing, err)
	}
}

func TestInMemoryStorageDeepCopies(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()

	original := []llm.ChatMessage{{
		Role:      "assistant",
		ToolCalls: []llm.ToolCall{{ID: "c1", Name: "fetch_url", Arguments: []byte(`{"url":"a"}`)}},
	}}
	if err := s.Save(ctx, "conv_1", original); err != nil {
		t.Fatal(err)
	}
	original[0].ToolCalls[0].Name = "changed"
	original[0].ToolCalls[0].Arguments[2] = 'X'

	loaded, _ := s.Load(ctx, "conv_1")
	tc := loaded[0].ToolCalls[0]
	if tc.Name != "fetch_url" || string(tc.Arguments) != `{"url":"a"}` {
		t.Errorf("stored history was mutated: %+v %s", tc, tc.Arguments)
	}
}

func TestInMemoryStorageListAndDelete(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	_ = s.Save(ctx, "conv_old", nil)
	now = now.Add(time.Minute)
	_ = s.Save(ctx, "conv_new", nil)

	ids, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "conv_new" || ids[1] != "conv_old" {
		t.Errorf("expected newest first, got %v", ids)
	}

	if err := s.Delete(ctx, "conv_new"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx, "conv_new"); ok {
		t.Error("expected conv_new to be gone")
	}
	if ok, _ := s.Exists(ctx, "conv_old"); !ok {
		t.Error("expected conv_old to remain")
	}
}

func TestInMemoryStorageDeleteExpired(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	_ = s.Save(ctx, "conv_stale", nil)
	now = now.Add(2 * time.Hour)
	_ = s.Save(ctx, "conv_fresh", nil)

	if n := s.DeleteExpired(ctx, time.Hour); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	ids, _ := s.ListSessions(ctx)
	if len(ids) != 1 || ids[0] != "conv_fresh" {
		t.Errorf("unexpected survivors %v", ids)
	}
}
