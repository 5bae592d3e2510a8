package session

import (
	"context"
	"time"
)

// Session is the server-side record behind an opaque session cookie.
// It stores identity pointers only, never auth state.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"` // references users.id
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"` // absolute expiry
}

// Store defines how sessions are persisted. Implementations must be
// stateless and opaque to callers.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
