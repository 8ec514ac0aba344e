// Package stage runs single pipeline stages against the agent service.
//
// Information Hiding:
// - Stream translation and supervision hidden behind Executor
// - Backoff schedule and retry budgets hidden behind Retrier
// - Callers see a Result or a classified *failure.Error

package stage

import (
	"context"
	"time"

	"github.com/richinex/tsgpipe/failure"
	"github.com/richinex/tsgpipe/llm"
	"github.com/richinex/tsgpipe/stream"
)

// Stage identifies one step of the pipeline.
type Stage string

const (
	StageResearch Stage = "research"
	StageWrite    Stage = "write"
	StageReview   Stage = "review"
)

func (s Stage) String() string {
	return string(s)
}

// Title returns the capitalized stage name for display.
func (s Stage) Title() string {
	return failure.Title(string(s))
}

// Attempt numbers one try of a stage request. N starts at 1.
type Attempt struct {
	N       int
	Max     int
	Started time.Time
}

// Request is one stage invocation.
type Request struct {
	Stage          Stage
	Instructions   string
	Prompt         string
	Images         []llm.Image
	ConversationID string
	UseTools       bool
	Attempt        Attempt
}

// Result is the outcome of a successful stage.
type Result struct {
	Stage          Stage
	Output         string
	Usage          llm.TokenUsage
	Duration       time.Duration
	ConversationID string
	Attempts       int
}

// SourceFactory opens a provider event source for a request.
type SourceFactory interface {
	NewSource(req Request) stream.Source
}

// SourceFactoryFunc adapts a function to SourceFactory.
type SourceFactoryFunc func(req Request) stream.Source

// NewSource implements SourceFactory.
func (f SourceFactoryFunc) NewSource(req Request) stream.Source {
	return f(req)
}

// Runner runs a stage request to a final result or a terminal error.
type Runner interface {
	Run(ctx context.Context, req Request, cancel *stream.Canceller, emit func(stream.Event)) (Result, error)
}
