package stream

import (
	"fmt"
	"time"

	"github.com/richinex/tsgpipe/failure"
)

// ToolTimeoutError is raised when a tool call stays in flight past its limit.
type ToolTimeoutError struct {
	Tool    string
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %.0fs (limit: %.0fs). Retrying...", e.Tool, e.Elapsed.Seconds(), e.Limit.Seconds())
}

// FailureKind implements failure.Kinded.
func (e *ToolTimeoutError) FailureKind() failure.Kind { return failure.KindToolTimeout }

// StallError is raised when the stream produces nothing for longer than the
// absolute stall ceiling.
type StallError struct {
	Idle      time.Duration
	Limit     time.Duration
	LastEvent string
}

func (e *StallError) Error() string {
	last := e.LastEvent
	if last == "" {
		last = "start"
	}
	return fmt.Sprintf("Connection stalled (no response for %.0fs, limit %.0fs, after '%s'). Retrying...", e.Idle.Seconds(), e.Limit.Seconds(), last)
}

// FailureKind implements failure.Kinded.
func (e *StallError) FailureKind() failure.Kind { return failure.KindStreamStall }

// ResponseFailedError carries the structured error from a failed event.
type ResponseFailedError struct {
	Code    string
	Message string
	Param   string
	Status  int
}

func (e *ResponseFailedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "Unknown error"
	}
	if e.Param != "" {
		return fmt.Sprintf("response failed: %s (param: %s)", msg, e.Param)
	}
	return "response failed: " + msg
}

// StatusCode implements failure.Structured.
func (e *ResponseFailedError) StatusCode() int { return e.Status }

// ErrorCode implements failure.Structured.
func (e *ResponseFailedError) ErrorCode() string { return e.Code }

var (
	_ failure.Kinded     = (*ToolTimeoutError)(nil)
	_ failure.Kinded     = (*StallError)(nil)
	_ failure.Structured = (*ResponseFailedError)(nil)
)
