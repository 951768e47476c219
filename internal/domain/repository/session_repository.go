package repository

import (
	"context"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// SessionInfo summarises one persisted session for listings.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     int64     `json:"turns"`
}

// SessionRepository is the durable append-log behind non-ephemeral
// sessions. Turn rows are append-only; the session header row is upserted
// alongside them.
type SessionRepository interface {
	// SaveSession upserts the session header row.
	SaveSession(ctx context.Context, session *entity.Session) error

	// AppendTurn appends one turn to the session's log.
	AppendTurn(ctx context.Context, sessionID string, turn entity.Turn) error

	// FindByID rehydrates a session with its most recent turns, oldest
	// first, capped at the in-memory history limit.
	FindByID(ctx context.Context, id string) (*entity.Session, error)

	// List returns recent sessions, most recently updated first.
	List(ctx context.Context, limit, offset int) ([]SessionInfo, error)

	// CountTurns reports the total persisted turns for a session.
	CountTurns(ctx context.Context, sessionID string) (int64, error)
}
