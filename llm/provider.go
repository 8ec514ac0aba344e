// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion, including images and tool calls
// - Mapping of SDK errors to *APIError

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// StreamChat streams a chat completion, sending text chunks to the
	// provided channel. Tools are offered when non-empty; requested calls
	// come back in LLMResponse.ToolCalls once the stream ends.
	// Failures reported by the remote API are returned as *APIError.
	StreamChat(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, chunks chan<- string) (LLMResponse, error)
}

// sendChunk forwards a text chunk unless ctx is done first.
func sendChunk(ctx context.Context, chunks chan<- string, text string) error {
	if text == "" || chunks == nil {
		return nil
	}
	select {
	case chunks <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
