package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/failure"
	"github.com/richinex/tsgpipe/llm"
)

// ProgressEvery is the number of output characters between progress events.
const ProgressEvery = 500

// ErrIncomplete is returned when a source finishes without a completed event.
var ErrIncomplete = errors.New("stream ended without completion")

// Config controls supervision of a single stream.
type Config struct {
	QueueSize         int
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration // warning only, suppressed while a tool runs
	StallTimeout      time.Duration // absolute ceiling
	ToolTimeout       time.Duration // per tool call
	Tick              time.Duration // supervision granularity; derived when zero
	Debug             bool          // emit debug_info at the end of each stream
}

// DefaultConfig returns production supervision settings.
func DefaultConfig() Config {
	return Config{
		QueueSize:         64,
		KeepaliveInterval: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		StallTimeout:      600 * time.Second,
		ToolTimeout:       90 * time.Second,
	}
}

func (c Config) tick() time.Duration {
	if c.Tick > 0 {
		return c.Tick
	}
	tick := time.Second
	for _, d := range []time.Duration{c.KeepaliveInterval, c.IdleTimeout, c.StallTimeout, c.ToolTimeout} {
		if d > 0 && d/4 < tick {
			tick = d / 4
		}
	}
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	return tick
}

// Outcome is the result of a completed stream.
type Outcome struct {
	Text           string
	ConversationID string
	Usage          llm.TokenUsage
	Events         int
	Duration       time.Duration
}

// Translator converts provider events to caller events while supervising
// the stream for keepalives, idleness, stalls and hung tool calls.
type Translator struct {
	cfg    Config
	logger *zap.Logger
}

// NewTranslator creates a translator. A nil logger disables logging.
func NewTranslator(cfg Config, logger *zap.Logger) *Translator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{cfg: cfg, logger: logger}
}

type toolCall struct {
	name  string
	start time.Time
}

type runState struct {
	stage     string
	started   time.Time
	lastEvent time.Time
	lastEmit  time.Time
	lastType  ProviderEventType

	idleWarned bool
	completed  bool
	events     int

	tools map[string]toolCall
	text  strings.Builder
	chars int

	out Outcome
}

// Run drives src in a worker goroutine and forwards translated events to
// emit from the calling goroutine, so emission order matches arrival order.
// It returns when the source completes, fails, times out, or cancel fires.
func (t *Translator) Run(ctx context.Context, stage string, src Source, cancel *Canceller, emit func(Event)) (Outcome, error) {
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	queue := make(chan ProviderEvent, t.cfg.QueueSize)
	workerDone := make(chan error, 1)
	go func() {
		defer close(queue)
		workerDone <- src.Stream(workerCtx, queue)
	}()

	abort := func() {
		stopWorker()
		// Unblock a worker stuck on a full queue.
		go func() {
			for range queue {
			}
		}()
	}

	now := time.Now()
	st := &runState{
		stage:     stage,
		started:   now,
		lastEvent: now,
		lastEmit:  now,
		tools:     make(map[string]toolCall),
	}
	send := func(ev Event) {
		st.lastEmit = time.Now()
		emit(ev)
	}

	ticker := time.NewTicker(t.cfg.tick())
	defer ticker.Stop()

	for {
		select {
		case <-cancel.Done():
			abort()
			return st.out, failure.ErrCancelled

		case <-ctx.Done():
			abort()
			return st.out, ctx.Err()

		case ev, ok := <-queue:
			if !ok {
				err := <-workerDone
				t.finish(st, send)
				if err != nil {
					return st.out, err
				}
				if !st.completed {
					return st.out, ErrIncomplete
				}
				return st.out, nil
			}
			if cancel.Cancelled() {
				abort()
				return st.out, failure.ErrCancelled
			}
			if err := t.translate(st, ev, send); err != nil {
				abort()
				t.finish(st, send)
				return st.out, err
			}

		case <-ticker.C:
			if err := t.supervise(st, send); err != nil {
				abort()
				t.finish(st, send)
				return st.out, err
			}
		}
	}
}

func (t *Translator) translate(st *runState, ev ProviderEvent, send func(Event)) error {
	now := time.Now()
	waited := now.Sub(st.lastEvent)
	st.lastEvent = now
	st.lastType = ev.Type
	st.idleWarned = false
	st.events++

	t.logger.Debug("provider event",
		zap.String("stage", st.stage),
		zap.String("type", string(ev.Type)),
		zap.Duration("elapsed", now.Sub(st.started)),
		zap.Duration("waited", waited),
	)

	title := failure.Title(st.stage)

	switch ev.Type {
	case ProviderCreated:
		if ev.ConversationID != "" {
			st.out.ConversationID = ev.ConversationID
		}
		send(NewEvent(EventStatus, st.stage, map[string]any{
			"status":  "in_progress",
			"message": title + ": Processing...",
		}))

	case ProviderOutputDelta:
		if ev.Delta == "" {
			return nil
		}
		before := st.chars
		st.text.WriteString(ev.Delta)
		st.chars += utf8.RuneCountInString(ev.Delta)
		if st.chars/ProgressEvery > before/ProgressEvery {
			send(NewEvent(EventProgress, st.stage, map[string]any{
				"message": fmt.Sprintf("%s: Writing response... (%d chars)", title, st.chars),
				"chars":   st.chars,
			}))
		}

	case ProviderToolStart:
		name := ev.ToolName
		if name == "" {
			name = "tool"
		}
		st.tools[toolKey(ev)] = toolCall{name: name, start: now}
		send(NewEvent(EventTool, st.stage, map[string]any{
			"status":  "running",
			"id":      ev.ToolID,
			"name":    name,
			"message": fmt.Sprintf("%s: Calling %s...", title, name),
		}))

	case ProviderToolComplete:
		call, ok := st.tools[toolKey(ev)]
		if !ok {
			call = toolCall{name: ev.ToolName, start: now}
		}
		delete(st.tools, toolKey(ev))
		elapsed := now.Sub(call.start)
		send(NewEvent(EventTool, st.stage, map[string]any{
			"status":          "completed",
			"id":              ev.ToolID,
			"name":            call.name,
			"elapsed_seconds": elapsed.Seconds(),
			"message":         fmt.Sprintf("%s: %s completed (%.1fs)", title, call.name, elapsed.Seconds()),
		}))
		if ev.ToolErr != "" {
			c := failure.Classify(st.stage, errors.New(ev.ToolErr))
			send(errorEvent(st.stage, c, false))
		}
		send(NewEvent(EventStatus, st.stage, map[string]any{
			"status":  "in_progress",
			"message": title + ": Processing results...",
		}))

	case ProviderCompleted:
		st.completed = true
		if ev.Text != "" {
			st.out.Text = ev.Text
		} else {
			st.out.Text = st.text.String()
		}
		st.out.Usage = ev.Usage
		send(NewEvent(EventStatus, st.stage, map[string]any{
			"status":  "completed",
			"message": title + ": Complete",
		}))

	case ProviderFailed:
		err := &ResponseFailedError{Code: ev.Code, Message: ev.Message, Param: ev.Param, Status: ev.Status}
		c := failure.Classify(st.stage, err)
		send(errorEvent(st.stage, c, false))
		// The caller reuses c, so the event and the returned error agree.
		return &failure.Error{Stage: st.stage, Classification: c, Err: err}

	default:
		t.logger.Debug("ignoring provider event", zap.String("type", string(ev.Type)))
	}
	return nil
}

func (t *Translator) supervise(st *runState, send func(Event)) error {
	now := time.Now()
	silent := now.Sub(st.lastEvent)

	if t.cfg.ToolTimeout > 0 {
		for _, call := range st.tools {
			if elapsed := now.Sub(call.start); elapsed >= t.cfg.ToolTimeout {
				t.logger.Warn("tool call timed out",
					zap.String("stage", st.stage),
					zap.String("tool", call.name),
					zap.Duration("elapsed", elapsed))
				return &ToolTimeoutError{Tool: call.name, Elapsed: elapsed, Limit: t.cfg.ToolTimeout}
			}
		}
	}

	if t.cfg.StallTimeout > 0 && silent >= t.cfg.StallTimeout {
		t.logger.Warn("stream stalled",
			zap.String("stage", st.stage),
			zap.Duration("silent", silent),
			zap.String("last_event", string(st.lastType)))
		return &StallError{Idle: silent, Limit: t.cfg.StallTimeout, LastEvent: string(st.lastType)}
	}

	if t.cfg.IdleTimeout > 0 && !st.idleWarned && len(st.tools) == 0 && silent >= t.cfg.IdleTimeout {
		st.idleWarned = true
		send(NewEvent(EventStatus, st.stage, map[string]any{
			"status":  "waiting",
			"warning": true,
			"message": fmt.Sprintf("%s: No response for %.0fs, still waiting...", failure.Title(st.stage), silent.Seconds()),
		}))
	}

	if t.cfg.KeepaliveInterval > 0 && now.Sub(st.lastEmit) >= t.cfg.KeepaliveInterval {
		send(NewEvent(EventKeepalive, st.stage, nil))
	}
	return nil
}

func (t *Translator) finish(st *runState, send func(Event)) {
	st.out.Events = st.events
	st.out.Duration = time.Since(st.started)
	if !t.cfg.Debug {
		return
	}
	send(NewEvent(EventDebugInfo, st.stage, map[string]any{
		"events":           st.events,
		"chars":            st.chars,
		"duration_seconds": st.out.Duration.Seconds(),
		"conversation_id":  st.out.ConversationID,
	}))
}

func toolKey(ev ProviderEvent) string {
	if ev.ToolID != "" {
		return ev.ToolID
	}
	return ev.ToolName
}

// ErrorEvent builds a caller-facing error event from a classification.
func ErrorEvent(stage string, c failure.Classification, fatal bool) Event {
	return errorEvent(stage, c, fatal)
}

func errorEvent(stage string, c failure.Classification, fatal bool) Event {
	data := map[string]any{
		"message":    c.UserMessage,
		"hint":       c.Hint,
		"retryable":  c.Retryable,
		"fatal":      fatal,
		"error_type": c.ErrorType(),
		"kind":       string(c.Kind),
	}
	if c.HTTPStatus != 0 {
		data["http_status"] = c.HTTPStatus
	}
	if c.APIErrorCode != "" {
		data["api_error_code"] = c.APIErrorCode
	}
	return NewEvent(EventError, stage, data)
}
