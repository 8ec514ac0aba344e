// Package stream turns raw agent-service events into the ordered, supervised
// event feed consumed by callers of the pipeline.
//
// Information Hiding:
// - Provider event shapes hidden behind the Source interface
// - Timeout bookkeeping (idle, stall, per-tool) hidden inside Translator
// - Keepalive synthesis hidden from callers

package stream

import (
	"context"
	"time"

	"github.com/richinex/tsgpipe/llm"
)

// EventType is the caller-facing event vocabulary.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStatus        EventType = "status"
	EventStageStart    EventType = "stage_start"
	EventStageComplete EventType = "stage_complete"
	EventProgress      EventType = "progress"
	EventTool          EventType = "tool"
	EventError         EventType = "error"
	EventResult        EventType = "result"
	EventCancelled     EventType = "cancelled"
	EventKeepalive     EventType = "keepalive"
	EventDebugInfo     EventType = "debug_info"
	EventDone          EventType = "done"
)

// Event is one entry of the live feed.
type Event struct {
	Type  EventType      `json:"type"`
	RunID string         `json:"run_id,omitempty"`
	Stage string         `json:"stage,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	At    time.Time      `json:"at"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, stage string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Type: t, Stage: stage, Data: data, At: time.Now()}
}

// Terminal reports whether no further events follow this one for its run.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventCancelled
}

// ProviderEventType is the raw vocabulary produced by the agent service.
type ProviderEventType string

const (
	ProviderCreated      ProviderEventType = "created"
	ProviderOutputDelta  ProviderEventType = "output_delta"
	ProviderToolStart    ProviderEventType = "tool_start"
	ProviderToolComplete ProviderEventType = "tool_complete"
	ProviderCompleted    ProviderEventType = "completed"
	ProviderFailed       ProviderEventType = "failed"
)

// ProviderEvent is a raw event pushed by a Source. Only the fields relevant
// to Type are set.
type ProviderEvent struct {
	Type ProviderEventType

	ConversationID string // created

	Delta string // output_delta

	ToolID   string // tool_start, tool_complete
	ToolName string
	ToolErr  string // tool_complete

	Text  string         // completed
	Usage llm.TokenUsage // completed

	Code    string // failed
	Message string
	Param   string
	Status  int
}

// Source drives one external call and pushes its events into the queue.
// Implementations must stop sending once ctx is done.
type Source interface {
	Stream(ctx context.Context, events chan<- ProviderEvent) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, events chan<- ProviderEvent) error

// Stream implements Source.
func (f SourceFunc) Stream(ctx context.Context, events chan<- ProviderEvent) error {
	return f(ctx, events)
}

// Send pushes ev unless ctx is done first.
func Send(ctx context.Context, events chan<- ProviderEvent, ev ProviderEvent) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
