// Package archive persists finished calls.
package archive

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/telecaller/internal/session"
)

// ErrNotFound is returned when no archived record exists for a call.
var ErrNotFound = errors.New("archived call not found")

// Record is the archived form of a finished call.
type Record struct {
	ID                string            `json:"archive_id"`
	CallID            string            `json:"call_id"`
	Status            string            `json:"status"`
	Reason            string            `json:"reason,omitempty"`
	Intent            string            `json:"intent,omitempty"`
	TotalInteractions int               `json:"total_interactions"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	History           []session.Message `json:"history"`
	CreatedAt         time.Time         `json:"created_at"`
	EndedAt           time.Time         `json:"ended_at"`
}

// FromSession builds a record from a final session snapshot.
func FromSession(s session.Session, reason string, endedAt time.Time) Record {
	history := s.History
	if history == nil {
		history = []session.Message{}
	}
	return Record{
		ID:                uuid.NewString(),
		CallID:            s.ID,
		Status:            string(s.Status),
		Reason:            reason,
		Intent:            string(s.Intent),
		TotalInteractions: s.TotalInteractions,
		Metadata:          maps.Clone(s.Metadata),
		History:           history,
		CreatedAt:         s.CreatedAt,
		EndedAt:           endedAt,
	}
}

// Store saves and loads archived calls.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, callID string) (Record, error)
	Close() error
}

// Retrier runs fn until it succeeds or gives up.
type Retrier interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}
