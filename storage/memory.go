package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/richinex/tsgpipe/llm"
)

// InMemoryStorage is a process-local ConversationStorage. It mirrors the
// SQLite semantics: most recently updated first, and expiry by age.
type InMemoryStorage struct {
	mu            sync.RWMutex
	conversations map[string]conversation
	now           func() time.Time
}

type conversation struct {
	history   []llm.ChatMessage
	updatedAt time.Time
}

// NewInMemoryStorage creates an empty store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		conversations: make(map[string]conversation),
		now:           time.Now,
	}
}

func (s *InMemoryStorage) Save(ctx context.Context, conversationID string, history []llm.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = conversation{history: cloneHistory(history), updatedAt: s.now()}
	return nil
}

// Load returns a copy of the history, or an empty slice for unknown ids.
func (s *InMemoryStorage) Load(ctx context.Context, conversationID string) ([]llm.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return []llm.ChatMessage{}, nil
	}
	return cloneHistory(c.history), nil
}

func (s *InMemoryStorage) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

// ListSessions returns conversation handles, most recently updated first.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.conversations[ids[i]], s.conversations[ids[j]]
		if a.updatedAt.Equal(b.updatedAt) {
			return ids[i] < ids[j]
		}
		return a.updatedAt.After(b.updatedAt)
	})
	return ids, nil
}

func (s *InMemoryStorage) Exists(ctx context.Context, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[conversationID]
	return ok, nil
}

// DeleteExpired drops conversations not saved within ttl and returns how
// many were removed.
func (s *InMemoryStorage) DeleteExpired(ctx context.Context, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	removed := 0
	for id, c := range s.conversations {
		if c.updatedAt.Before(cutoff) {
			delete(s.conversations, id)
			removed++
		}
	}
	return removed
}

// cloneHistory copies the messages and the slices they hold, so callers
// can't mutate stored tool calls or images.
func cloneHistory(history []llm.ChatMessage) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(history))
	for i, m := range history {
		if m.Images != nil {
			m.Images = append([]llm.Image(nil), m.Images...)
		}
		if m.ToolCalls != nil {
			calls := make([]llm.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				tc.Arguments = append([]byte(nil), tc.Arguments...)
				calls[j] = tc
			}
			m.ToolCalls = calls
		}
		out[i] = m
	}
	return out
}

var _ ConversationStorage = (*InMemoryStorage)(nil)
