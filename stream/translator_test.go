package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/richinex/tsgpipe/failure"
)

func collect() (*[]Event, func(Event)) {
	var events []Event
	return &events, func(e Event) { events = append(events, e) }
}

func quietConfig() Config {
	return Config{QueueSize: 16, Tick: 5 * time.Millisecond}
}

func countType(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestTranslatorForwardsInOrder(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		evs := []ProviderEvent{
			{Type: ProviderCreated, ConversationID: "conv_1"},
			{Type: ProviderToolStart, ToolID: "t1", ToolName: "web_search"},
			{Type: ProviderToolComplete, ToolID: "t1", ToolName: "web_search"},
			{Type: ProviderOutputDelta, Delta: strings.Repeat("a", 300)},
			{Type: ProviderOutputDelta, Delta: strings.Repeat("b", 300)},
			{Type: ProviderCompleted},
		}
		for _, ev := range evs {
			if err := Send(ctx, out, ev); err != nil {
				return err
			}
		}
		return nil
	})

	events, emit := collect()
	tr := NewTranslator(quietConfig(), nil)
	out, err := tr.Run(context.Background(), "research", src, NewCanceller(), emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out.ConversationID != "conv_1" {
		t.Errorf("expected conversation id conv_1, got %q", out.ConversationID)
	}
	if len(out.Text) != 600 {
		t.Errorf("expected 600 chars of accumulated text, got %d", len(out.Text))
	}
	if out.Events != 6 {
		t.Errorf("expected 6 provider events, got %d", out.Events)
	}

	want := []EventType{EventStatus, EventTool, EventTool, EventStatus, EventProgress, EventStatus}
	var got []EventType
	for _, e := range *events {
		if e.Type != EventKeepalive {
			got = append(got, e.Type)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if (*events)[0].Stage != "research" {
		t.Errorf("expected stage stamped on events, got %q", (*events)[0].Stage)
	}
}

func TestTranslatorCompletedTextWins(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		_ = Send(ctx, out, ProviderEvent{Type: ProviderOutputDelta, Delta: "partial"})
		return Send(ctx, out, ProviderEvent{Type: ProviderCompleted, Text: "final text"})
	})
	_, emit := collect()
	out, err := NewTranslator(quietConfig(), nil).Run(context.Background(), "write", src, nil, emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Text != "final text" {
		t.Errorf("expected completed text, got %q", out.Text)
	}
}

func TestTranslatorToolTimeout(t *testing.T) {
	stopped := make(chan struct{})
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		defer close(stopped)
		_ = Send(ctx, out, ProviderEvent{Type: ProviderToolStart, ToolID: "t1", ToolName: "web_search"})
		<-ctx.Done()
		return ctx.Err()
	})

	cfg := quietConfig()
	cfg.ToolTimeout = 40 * time.Millisecond
	_, emit := collect()
	_, err := NewTranslator(cfg, nil).Run(context.Background(), "research", src, nil, emit)

	var tte *ToolTimeoutError
	if !errors.As(err, &tte) {
		t.Fatalf("expected ToolTimeoutError, got %v", err)
	}
	if tte.Tool != "web_search" {
		t.Errorf("expected tool name web_search, got %q", tte.Tool)
	}
	c := failure.Classify("research", err)
	if c.Kind != failure.KindToolTimeout || !c.Retryable {
		t.Errorf("expected retryable tool timeout, got %+v", c)
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("expected worker to be stopped after timeout")
	}
}

func TestTranslatorStall(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cfg := quietConfig()
	cfg.StallTimeout = 40 * time.Millisecond
	_, emit := collect()
	_, err := NewTranslator(cfg, nil).Run(context.Background(), "write", src, nil, emit)

	var se *StallError
	if !errors.As(err, &se) {
		t.Fatalf("expected StallError, got %v", err)
	}
	if se.Idle < cfg.StallTimeout {
		t.Errorf("expected idle >= limit, got %v", se.Idle)
	}
}

func TestTranslatorIdleWarningSuppressedDuringTool(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		_ = Send(ctx, out, ProviderEvent{Type: ProviderToolStart, ToolID: "t1", ToolName: "fetch_url"})
		time.Sleep(80 * time.Millisecond)
		_ = Send(ctx, out, ProviderEvent{Type: ProviderToolComplete, ToolID: "t1", ToolName: "fetch_url"})
		return Send(ctx, out, ProviderEvent{Type: ProviderCompleted, Text: "ok"})
	})

	cfg := quietConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	events, emit := collect()
	if _, err := NewTranslator(cfg, nil).Run(context.Background(), "research", src, nil, emit); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, e := range *events {
		if e.Type == EventStatus && e.Data["status"] == "waiting" {
			t.Errorf("expected no idle warning while a tool is running, got %v", e.Data)
		}
	}
}

func TestTranslatorIdleWarningOnce(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		time.Sleep(80 * time.Millisecond)
		return Send(ctx, out, ProviderEvent{Type: ProviderCompleted, Text: "ok"})
	})

	cfg := quietConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	events, emit := collect()
	if _, err := NewTranslator(cfg, nil).Run(context.Background(), "write", src, nil, emit); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	warnings := 0
	for _, e := range *events {
		if e.Type == EventStatus && e.Data["status"] == "waiting" {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("expected exactly one idle warning, got %d", warnings)
	}
}

func TestTranslatorKeepalive(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		time.Sleep(60 * time.Millisecond)
		return Send(ctx, out, ProviderEvent{Type: ProviderCompleted, Text: "ok"})
	})

	cfg := quietConfig()
	cfg.KeepaliveInterval = 10 * time.Millisecond
	events, emit := collect()
	if _, err := NewTranslator(cfg, nil).Run(context.Background(), "review", src, nil, emit); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if countType(*events, EventKeepalive) == 0 {
		t.Error("expected keepalive events during silence")
	}
	var last Event
	for _, e := range *events {
		if e.Type != EventKeepalive {
			last = e
		}
	}
	if last.Type != EventStatus || last.Data["status"] != "completed" {
		t.Errorf("expected completion status last, got %s %v", last.Type, last.Data)
	}
}

func TestTranslatorFailedEvent(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		return Send(ctx, out, ProviderEvent{Type: ProviderFailed, Code: "rate_limit_exceeded", Message: "slow down", Status: 429})
	})

	events, emit := collect()
	_, err := NewTranslator(quietConfig(), nil).Run(context.Background(), "write", src, nil, emit)

	var rfe *ResponseFailedError
	if !errors.As(err, &rfe) {
		t.Fatalf("expected ResponseFailedError, got %v", err)
	}
	if rfe.Status != 429 {
		t.Errorf("expected status 429, got %d", rfe.Status)
	}
	c, ok := failure.As(err)
	if !ok || c.Kind != failure.KindRateLimit || c.APIErrorCode != "rate_limit_exceeded" {
		t.Errorf("expected the emitted classification on the error, got %+v (%v)", c, ok)
	}

	if countType(*events, EventError) != 1 {
		t.Fatalf("expected one error event, got %d", countType(*events, EventError))
	}
	for _, e := range *events {
		if e.Type == EventError {
			if e.Data["fatal"] != false {
				t.Error("expected per-attempt error to be non-fatal")
			}
			if e.Data["retryable"] != true {
				t.Error("expected rate limit to be retryable")
			}
		}
	}
}

func TestTranslatorCancel(t *testing.T) {
	cancel := NewCanceller()
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		_ = Send(ctx, out, ProviderEvent{Type: ProviderCreated})
		cancel.Cancel()
		for i := 0; i < 100; i++ {
			if err := Send(ctx, out, ProviderEvent{Type: ProviderOutputDelta, Delta: "x"}); err != nil {
				return err
			}
		}
		<-ctx.Done()
		return ctx.Err()
	})

	_, emit := collect()
	_, err := NewTranslator(quietConfig(), nil).Run(context.Background(), "write", src, cancel, emit)
	if !errors.Is(err, failure.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestTranslatorIncomplete(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		return Send(ctx, out, ProviderEvent{Type: ProviderOutputDelta, Delta: "half"})
	})
	_, emit := collect()
	_, err := NewTranslator(quietConfig(), nil).Run(context.Background(), "write", src, nil, emit)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestTranslatorSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := SourceFunc(func(ctx context.Context, out chan<- ProviderEvent) error {
		return boom
	})
	_, emit := collect()
	_, err := NewTranslator(quietConfig(), nil).Run(context.Background(), "write", src, nil, emit)
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestCancellerFiresOnce(t *testing.T) {
	c := NewCanceller()
	if c.Cancelled() {
		t.Fatal("expected fresh canceller to be armed")
	}
	if !c.Cancel() {
		t.Error("expected first Cancel to fire")
	}
	if c.Cancel() {
		t.Error("expected second Cancel to be a no-op")
	}
	if !c.Cancelled() {
		t.Error("expected Cancelled after Cancel")
	}

	var nilC *Canceller
	if nilC.Cancel() || nilC.Cancelled() {
		t.Error("expected nil canceller to never fire")
	}
}
