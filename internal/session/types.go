package session

import (
	"errors"
	"time"
)

// ErrThreadNotFound is returned when no thread exists for a key.
var ErrThreadNotFound = errors.New("session: thread not found")

// Thread pins one research conversation to its workflow identity. It is
// created once per (user, conversation) pair and reused across
// interrupt/resume cycles; the settings captured here are immutable for the
// lifetime of one graph run.
type Thread struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Active run binding; empty when no run is in flight.
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`

	// Run settings frozen at creation.
	SearchBackend string `json:"search_backend"`
	ModelProvider string `json:"model_provider"`
}

// HasActiveRun reports whether a workflow is bound to this thread.
func (t *Thread) HasActiveRun() bool {
	return t.WorkflowID != ""
}
