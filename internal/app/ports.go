package app

import (
	"context"
	"time"

	"trivia-session-service/internal/domain"
)

// SessionStore abstracts where session records live (in-memory, Redis, SQLite).
// Load and Save exchange copies; mutating a loaded session has no effect until
// it is saved.
type SessionStore interface {
	// Create stores a new session or fails with domain.ErrDuplicateCode.
	Create(ctx context.Context, session domain.Session) error
	// Load fails with domain.ErrSessionNotFound for unknown codes.
	Load(ctx context.Context, code string) (domain.Session, error)
	// Save fails with domain.ErrConflict when session.Version is stale and
	// bumps session.Version on success.
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, code string) error
	// PurgeCompleted removes completed sessions last updated before the cutoff.
	PurgeCompleted(ctx context.Context, before time.Time) (int, error)
}

// QuestionProvider is the read-only question bank.
type QuestionProvider interface {
	// Sample returns up to n distinct playable questions in random order.
	Sample(ctx context.Context, n int) ([]domain.Question, error)
	// GetByID fails with domain.ErrQuestionNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (domain.Question, error)
}

// Broadcaster delivers engine events to live connections.
type Broadcaster interface {
	Subscribe(code, connID string)
	Unsubscribe(code, connID string)
	// BroadcastToRoom skips exceptConnID when it is non-empty.
	BroadcastToRoom(code string, event domain.RoomEvent, exceptConnID string)
	Unicast(connID string, event domain.DirectEvent)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Subscribe(string, string) {}
func (noopBroadcaster) Unsubscribe(string, string) {}
func (noopBroadcaster) BroadcastToRoom(string, domain.RoomEvent, string) {}
func (noopBroadcaster) Unicast(string, domain.DirectEvent) {}
