// Tool Executor with Retry Logic.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Retryability decided by the shared failure taxonomy

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richinex/tsgpipe/failure"
)

// Executor provides tool execution with retry and timeout support.
type Executor struct {
	config ToolConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a new tool executor with the given configuration.
func NewExecutor(config ToolConfig) *Executor {
	return &Executor{config: config, sleep: sleepContext}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultToolConfig())
}

// Timeout returns the per-call timeout used by ExecuteWithTimeout callers.
func (e *Executor) Timeout() time.Duration {
	return e.config.Timeout()
}

// Execute validates the arguments and runs a tool, retrying failures the
// failure taxonomy marks retryable.
func (e *Executor) Execute(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	toolName := tool.Metadata().Name
	if err := tool.Validate(args); err != nil {
		return FailureResult(fmt.Errorf("validation failed: %w", err)), nil
	}

	maxAttempts := e.config.Retries()
	var lastErr error
	for attempt := uint32(0); attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.calculateBackoff(attempt)); err != nil {
				return ToolResult{}, err
			}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			if ctx.Err() != nil {
				return ToolResult{}, ctx.Err()
			}
			lastErr = err
			if !shouldRetry(toolName, err) {
				return FailureResult(err), nil
			}
			continue
		}
		if result.Success() || !shouldRetry(toolName, result.Error) {
			return result, nil
		}
		if ctx.Err() != nil {
			return ToolResult{}, ctx.Err()
		}
		lastErr = result.Error
	}

	errMsg := "unknown error"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return FailureResultf("tool '%s' failed after %d attempts: %s", toolName, maxAttempts, errMsg), nil
}

// calculateBackoff returns min(base * 2^(attempt-1), max).
func (e *Executor) calculateBackoff(attempt uint32) time.Duration {
	base, max := e.config.backoffBounds()
	delay := base
	for i := uint32(1); i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func shouldRetry(toolName string, err error) bool {
	return failure.Classify(toolName, err).Retryable
}

// ExecuteWithTimeout runs a tool with a specific timeout. A non-positive
// timeout uses the executor's configured one.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, tool Tool, args json.RawMessage, timeout time.Duration) (ToolResult, error) {
	if timeout <= 0 {
		timeout = e.config.Timeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.Execute(ctx, tool, args)
}

// ExecuteOnce runs a tool once without retries.
func ExecuteOnce(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	if err := tool.Validate(args); err != nil {
		return FailureResult(fmt.Errorf("validation failed: %w", err)), nil
	}

	return tool.Execute(ctx, args)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
