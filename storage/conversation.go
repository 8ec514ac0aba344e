// Package storage persists pipeline sessions and agent conversation history.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interfaces
// - Allows swapping between memory, go-cache and SQLite without API changes
// - Each storage implementation encapsulates its own data structures

package storage

import (
	"context"

	"github.com/richinex/tsgpipe/llm"
)

// ConversationStorage stores agent conversation history keyed by
// conversation handle.
type ConversationStorage interface {
	// Save replaces the history for a conversation.
	Save(ctx context.Context, conversationID string, history []llm.ChatMessage) error

	// Load loads the history for a conversation.
	// Returns empty slice (not nil) if the conversation doesn't exist.
	// Returns error only for storage failures, not missing conversations.
	Load(ctx context.Context, conversationID string) ([]llm.ChatMessage, error)

	// Delete deletes the history for a conversation.
	Delete(ctx context.Context, conversationID string) error

	// ListSessions lists all conversation handles.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a conversation exists.
	Exists(ctx context.Context, conversationID string) (bool, error)
}
