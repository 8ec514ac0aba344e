package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/richinex/tsgpipe/document"
	"github.com/richinex/tsgpipe/failure"
)

// ErrSessionNotFound is returned by SessionStore.Get for unknown or expired
// sessions.
var ErrSessionNotFound = failure.ErrSessionNotFound

// Session is the persisted record of one troubleshooting-guide iteration.
// The orchestrator owns the meaning of State and the field transitions.
type Session struct {
	ID             string                 `json:"id"`
	State          string                 `json:"state"`
	Notes          string                 `json:"notes"`
	Research       string                 `json:"research,omitempty"`
	Draft          string                 `json:"draft,omitempty"`
	Questions      []document.Question    `json:"questions,omitempty"`
	Missing        []document.Placeholder `json:"missing,omitempty"`
	Review         *document.Review       `json:"review,omitempty"`
	PriorReview    *document.Review       `json:"prior_review,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	ActiveRunID    string                 `json:"active_run_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Clone returns a deep copy, so stores never share mutable state with
// callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		c := *s
		return &c
	}
	var c Session
	if err := json.Unmarshal(b, &c); err != nil {
		c = *s
	}
	return &c
}

// SessionStore persists sessions between runs.
type SessionStore interface {
	// Get returns ErrSessionNotFound for unknown or expired sessions.
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}
