package stage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richinex/tsgpipe/failure"
	"github.com/richinex/tsgpipe/llm"
	"github.com/richinex/tsgpipe/stream"
)

// scriptedFactory replays one script per attempt. The last script repeats.
type scriptedFactory struct {
	mu       sync.Mutex
	scripts  [][]stream.ProviderEvent
	requests []Request
}

func (f *scriptedFactory) NewSource(req Request) stream.Source {
	f.mu.Lock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i >= len(f.scripts) {
		i = len(f.scripts) - 1
	}
	script := f.scripts[i]
	f.mu.Unlock()

	return stream.SourceFunc(func(ctx context.Context, out chan<- stream.ProviderEvent) error {
		for _, ev := range script {
			if err := stream.Send(ctx, out, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func succeed(text string) []stream.ProviderEvent {
	return []stream.ProviderEvent{
		{Type: stream.ProviderCreated, ConversationID: "conv_abc"},
		{Type: stream.ProviderOutputDelta, Delta: text},
		{Type: stream.ProviderCompleted, Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
	}
}

func failWith(status int, code string) []stream.ProviderEvent {
	return []stream.ProviderEvent{
		{Type: stream.ProviderCreated, ConversationID: "conv_abc"},
		{Type: stream.ProviderFailed, Status: status, Code: code, Message: "boom"},
	}
}

func testConfig() stream.Config {
	return stream.Config{QueueSize: 16, Tick: 5 * time.Millisecond}
}

func collect() (*[]stream.Event, func(stream.Event)) {
	var mu sync.Mutex
	var events []stream.Event
	return &events, func(e stream.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
}

func ofType(events []stream.Event, typ stream.EventType) []stream.Event {
	var out []stream.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type recordedSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newRetrier(f SourceFactory, s *recordedSleep) *Retrier {
	exec := NewExecutor(f, testConfig(), nil)
	return NewRetrier(exec, DefaultRetryConfig(), nil).WithSleep(s.sleep)
}

func TestStageTitle(t *testing.T) {
	if StageResearch.Title() != "Research" || StageReview.String() != "review" {
		t.Errorf("unexpected stage names %q %q", StageResearch.Title(), StageReview.String())
	}
}

func TestExecutorSuccess(t *testing.T) {
	f := &scriptedFactory{scripts: [][]stream.ProviderEvent{succeed("draft")}}
	exec := NewExecutor(f, testConfig(), nil)

	_, emit := collect()
	res, err := exec.Execute(context.Background(), Request{Stage: StageWrite, Attempt: Attempt{N: 1}}, stream.NewCanceller(), emit)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Output != "draft" || res.ConversationID != "conv_abc" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Usage.TotalTokens != 15 {
		t.Errorf("expected usage to be carried, got %+v", res.Usage)
	}
	if res.Stage != StageWrite {
		t.Errorf("expected write stage, got %s", res.Stage)
	}
}

func TestExecutorClassifiesFailure(t *testing.T) {
	f := &scriptedFactory{scripts: [][]stream.ProviderEvent{failWith(401, "")}}
	exec := NewExecutor(f, testConfig(), nil)

	_, emit := collect()
	_, err := exec.Execute(context.Background(), Request{Stage: StageResearch}, stream.NewCanceller(), emit)
	var fe *failure.Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *failure.Error, got %v", err)
	}
	if fe.Classification.Kind != failure.KindAuth || fe.Classification.Retryable {
		t.Errorf("unexpected classification %+v", fe.Classification)
	}
	if fe.Stage != "research" {
		t.Errorf("expected research stage, got %q", fe.Stage)
	}
}

func TestRetrierRetriesThenSucceeds(t *testing.T) {
	f := &scriptedFactory{scripts: [][]stream.ProviderEvent{
		failWith(500, "server_error"),
		failWith(503, ""),
		succeed("ok"),
	}}
	s := &recordedSleep{}
	events, emit := collect()

	res, err := newRetrier(f, s).Run(context.Background(), Request{Stage: StageResearch}, stream.NewCanceller(), emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Output != "ok" || res.Attempts != 3 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(s.waits) != 2 || s.waits[0] != 2*time.Second || s.waits[1] != 4*time.Second {
		t.Errorf("unexpected waits %v", s.waits)
	}

	progress := ofType(*events, stream.EventProgress)
	var retries []stream.Event
	for _, e := range progress {
		if _, ok := e.Data["wait_seconds"]; ok {
			retries = append(retries, e)
		}
	}
	if len(retries) != 2 {
		t.Fatalf("expected 2 retry progress events, got %d", len(retries))
	}
	msg := retries[0].Data["message"].(string)
	if !strings.HasPrefix(msg, "Research: ") || !strings.Contains(msg, "Waiting 2s, retrying (attempt 2/4)...") {
		t.Errorf("unexpected retry message %q", msg)
	}
	if len(ofType(*events, stream.EventError)) != 2 {
		t.Errorf("expected only the two non-fatal failure events")
	}
	for _, e := range ofType(*events, stream.EventError) {
		if e.Data["fatal"] == true {
			t.Error("expected no fatal error on eventual success")
		}
	}

	for i, req := range f.requests {
		if req.Attempt.N != i+1 || req.Attempt.Max != 4 {
			t.Errorf("request %d: unexpected attempt %+v", i, req.Attempt)
		}
	}
}

func TestRetrierNonRetryable(t *testing.T) {
	f := &scriptedFactory{scripts: [][]stream.ProviderEvent{failWith(403, "")}}
	s := &recordedSleep{}
	events, emit := collect()

	_, err := newRetrier(f, s).Run(context.Background(), Request{Stage: StageWrite}, stream.NewCanceller(), emit)
	c, ok := failure.As(err)
	if !ok || c.Kind != failure.KindPermission {
		t.Fatalf("expected permission failure, got %v", err)
	}
	if len(f.requests) != 1 || len(s.waits) != 0 {
		t.Errorf("expected a single attempt, got %d attempts and %d waits", len(f.requests), len(s.waits))
	}

	var fatal int
	for _, e := range ofType(*events, stream.EventError) {
		if e.Data["fatal"] == true {
			fatal++
		}
	}
	if fatal != 1 {
		t.Errorf("expected exactly one fatal error event, got %d", fatal)
	}
}

func TestExecutorReusesEventClassification(t *testing.T) {
	f := &scriptedFactory{scripts: [][]stream.ProviderEvent{failWith(0, "model_overloaded_v2")}}
	exec := NewExecutor(f, testConfig(), nil)

	events, emit := collect()
	_, err := exec.Execute(context.Background(), Request{Stage: StageWrite, Attempt: Attempt{N: 2}}, stream.NewCanceller(), emit)
	var fe *failure.Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *failure.Error, got %v", err)
	}
	var inner *failure.Error
	if errors.As(fe.Err, &inner) {
		t.Errorf("expected a single failure.Error layer, got nested %v", inner)
	}
	if fe.Attempts != 2 {
		t.Errorf("expected attempt 2 recorded, got %d", fe.Attempts)
	}

	errs := ofType(*events, stream.EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
	ev := errs[0].Data
	if ev["kind"] != string(fe.Classification.Kind) || ev["retryable"] != fe.Classification.Retryable {
		t.Errorf("event %v disagrees with returned classification %+v", ev, fe.Classification)
	}
	if ev["api_error_code"] != "model_overloaded_v2" || fe.Classification.APIErrorCode != "model_overloaded_v2" {
		t.Errorf("expected api code on both, got event %v and error %q", ev["api_error_code"], fe.Classification.APIErrorCode)
	}
}

func TestRetrierExhaustsBudget(t *testing.T) {
	f := &scriptedFactory{scripts: [][]stream.ProviderEvent{failWith(429, "rate_limit_exceeded")}}
	s := &recordedSleep{}
	events, emit := collect()

	_, err := newRetrier(f, s).Run(context.Background(), Request{Stage: StageReview}, stream.NewCanceller(), emit)
	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Classification.Kind != failure.KindRateLimit {
		t.Fatalf("expected rate limit failure, got %v", err)
	}
	if fe.Attempts != 3 || len(f.requests) != 3 {
		t.Errorf("expected 3 attempts, got %d (%d requests)", fe.Attempts, len(f.requests))
	}
	if len(s.waits) != 2 || s.waits[0] != 30*time.Second || s.waits[1] != 60*time.Second {
		t.Errorf("expected rate limit backoff, got %v", s.waits)
	}

	errs := ofType(*events, stream.EventError)
	last := errs[len(errs)-1]
	if last.Data["fatal"] != true || last.Data["error_type"] != "rate_limit" {
		t.Errorf("unexpected terminal error event %+v", last.Data)
	}
}

func TestRetrierCancelDuringWait(t *testing.T) {
	f := &scriptedFactory{scripts: [][]stream.ProviderEvent{failWith(500, "")}}
	cancel := stream.NewCanceller()
	events, emit := collect()

	r := NewRetrier(NewExecutor(f, testConfig(), nil), DefaultRetryConfig(), nil).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel.Cancel()
			<-ctx.Done()
			return ctx.Err()
		})

	_, err := r.Run(context.Background(), Request{Stage: StageResearch}, cancel, emit)
	if !errors.Is(err, failure.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(f.requests) != 1 {
		t.Errorf("expected no attempt after cancel, got %d", len(f.requests))
	}
	for _, e := range ofType(*events, stream.EventError) {
		if e.Data["fatal"] == true {
			t.Error("expected no fatal error after cancellation")
		}
	}
}

func TestRetrierCancelledBeforeStart(t *testing.T) {
	f := &scriptedFactory{scripts: [][]stream.ProviderEvent{succeed("x")}}
	cancel := stream.NewCanceller()
	cancel.Cancel()

	_, emit := collect()
	_, err := newRetrier(f, &recordedSleep{}).Run(context.Background(), Request{Stage: StageWrite}, cancel, emit)
	if !errors.Is(err, failure.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(f.requests) != 0 {
		t.Errorf("expected no attempts, got %d", len(f.requests))
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	r := NewRetrier(nil, RetryConfig{BackoffBase: time.Second, BackoffMax: 10 * time.Second}, nil)
	c := failure.Classification{Kind: failure.KindService}

	want := []time.Duration{1, 2, 4, 8, 10, 10}
	prev := time.Duration(0)
	for i, w := range want {
		got := r.Backoff(i+1, c)
		if got != w*time.Second {
			t.Errorf("retry %d: expected %v, got %v", i+1, w*time.Second, got)
		}
		if got < prev {
			t.Errorf("retry %d: backoff decreased", i+1)
		}
		prev = got
	}
}

func TestBudgetsFor(t *testing.T) {
	b := DefaultBudgets()
	if b.For(StageResearch) != 3 || b.For(StageWrite) != 2 || b.For(StageReview) != 2 {
		t.Errorf("unexpected budgets %+v", b)
	}
	if b.For(Stage("other")) != 0 {
		t.Error("expected zero budget for unknown stage")
	}
}
