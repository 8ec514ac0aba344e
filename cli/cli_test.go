package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/failure"
	"github.com/richinex/tsgpipe/gate"
	"github.com/richinex/tsgpipe/orchestration"
	"github.com/richinex/tsgpipe/stage"
	"github.com/richinex/tsgpipe/storage"
	"github.com/richinex/tsgpipe/stream"
)

type unusedRunner struct{}

func (unusedRunner) Run(ctx context.Context, req stage.Request, cancel *stream.Canceller, emit func(stream.Event)) (stage.Result, error) {
	return stage.Result{}, errors.New("runner must not be called")
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	return &App{
		Logger:   zap.NewNop(),
		Sessions: storage.NewCacheSessionStore(time.Hour),
		Gate:     gate.New(nil, gate.Options{}, nil),
	}
}

func TestPrinterText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false, false)

	p.Event(stream.NewEvent(stream.EventStageStart, "research", map[string]any{"message": "Research: Gathering..."}))
	p.Event(stream.NewEvent(stream.EventKeepalive, "research", nil))
	p.Event(stream.NewEvent(stream.EventDebugInfo, "research", map[string]any{"events": 3}))
	p.Event(stream.NewEvent(stream.EventError, "write", map[string]any{"message": "Rate limited", "hint": "Wait a minute."}))
	p.Event(stream.NewEvent(stream.EventTool, "research", map[string]any{"message": "Research: Calling fetch_url..."}))

	out := buf.String()
	for _, want := range []string{"== Research: Gathering...", "Error: Rate limited", "Hint: Wait a minute.", "Calling fetch_url"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "keepalive") || strings.Contains(out, "debug") {
		t.Errorf("keepalive and debug events should be hidden:\n%s", out)
	}
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true, false)
	p.Event(stream.NewEvent(stream.EventKeepalive, "review", nil))

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if got["type"] != "keepalive" || got["stage"] != "review" {
		t.Errorf("unexpected event %v", got)
	}
}

func TestPrinterResult(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false, false).Result(orchestration.PipelineResult{
		SessionID: "s1",
		State:     orchestration.StateComplete,
		Warnings:  []string{"step 3 is vague"},
		StageStats: map[stage.Stage]orchestration.StageStat{
			stage.StageWrite: {Attempts: 1},
		},
	})
	out := buf.String()
	for _, want := range []string{"Session: s1", "Warning: step 3 is vague", "write:", "Token Usage"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestCheckPIIFailsClosedWithoutService(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	err := app.CheckPII(context.Background(), "hello", false, &buf)
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != ExitBlocked {
		t.Fatalf("expected exit code %d, got %v", ExitBlocked, err)
	}
	if !errors.Is(err, failure.ErrPIIDetected) {
		t.Errorf("expected ErrPIIDetected, got %v", err)
	}
	if !strings.Contains(buf.String(), "not configured") {
		t.Errorf("expected configuration error in output, got %q", buf.String())
	}
}

func TestCheckPIIEmptyText(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer
	if err := app.CheckPII(context.Background(), "   ", false, &buf); err != nil {
		t.Fatalf("expected empty text to pass, got %v", err)
	}
	if !strings.Contains(buf.String(), "No PII") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestListAndClearSessions(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	if err := app.Sessions.Save(ctx, &storage.Session{ID: "abc", State: "COMPLETE", UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := app.ListSessions(ctx, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "abc") || !strings.Contains(buf.String(), "COMPLETE") {
		t.Errorf("unexpected listing %q", buf.String())
	}

	if err := app.ClearSession(ctx, "abc"); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	_ = app.ListSessions(ctx, &buf)
	if !strings.Contains(buf.String(), "No sessions") {
		t.Errorf("expected empty listing, got %q", buf.String())
	}
}

func TestFollowSkippedAnswers(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	if err := app.Sessions.Save(ctx, &storage.Session{
		ID:    "s1",
		State: string(orchestration.StateAwaitingAnswers),
		Notes: "notes",
		Draft: "# Draft body",
	}); err != nil {
		t.Fatal(err)
	}

	o, err := orchestration.New(orchestration.Deps{
		Runner: unusedRunner{},
		Store:  app.Sessions,
		Logger: zap.NewNop(),
		Config: orchestration.DefaultConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}
	run, err := o.SubmitAnswers(ctx, "s1", "", orchestration.SubmitAnswersOptions{Skip: true})
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "guide.md")
	var buf bytes.Buffer
	if err := app.follow(ctx, o, run, RunOptions{Out: out}, &buf); err != nil {
		t.Fatalf("follow failed: %v", err)
	}

	doc, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(doc), "# Draft body") {
		t.Errorf("unexpected document %q", doc)
	}
	if !strings.Contains(buf.String(), "Session: s1") || !strings.Contains(buf.String(), "Document written to") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sniffed := filepath.Join(dir, "shot")
	if err := os.WriteFile(sniffed, []byte("GIF89a......"), 0o644); err != nil {
		t.Fatal(err)
	}
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("plain words"), 0o644); err != nil {
		t.Fatal(err)
	}

	images, err := LoadImages([]string{png, sniffed})
	if err != nil {
		t.Fatal(err)
	}
	if images[0].MediaType != "image/png" || images[1].MediaType != "image/gif" {
		t.Errorf("unexpected media types %s, %s", images[0].MediaType, images[1].MediaType)
	}

	if _, err := LoadImages([]string{text}); err == nil {
		t.Error("expected error for non-image file")
	}
}

func TestReadInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("restart the pod"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadInput(path)
	if err != nil || got != "restart the pod" {
		t.Errorf("unexpected %q, %v", got, err)
	}
	if _, err := ReadInput(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDiscoverMCPBadConfig(t *testing.T) {
	if _, err := discoverMCP(context.Background(), nil, filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Error("expected error for missing config")
	}
	if _, err := discoverMCP(context.Background(), []string{"   "}, ""); err == nil {
		t.Error("expected error for empty command")
	}
}
