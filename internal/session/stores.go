package session

import (
	"context"
	"errors"

	"appointment-chat/internal/domain"
)

var (
	// ErrHandleTaken is returned by CredentialStore.Register for a duplicate handle.
	ErrHandleTaken = errors.New("session: handle already registered")
	// ErrProfileNotFound is returned by ProfileStore.GetProfile when the user
	// never submitted the intake form.
	ErrProfileNotFound = errors.New("session: profile not found")
	// ErrSessionNotFound is returned when loading session-local state that
	// does not exist (never logged in, expired or reset).
	ErrSessionNotFound = errors.New("session: no session state")
)

type CredentialStore interface {
	Register(ctx context.Context, handle, secret string) error
	Verify(ctx context.Context, handle, secret string) (bool, error)
}

type ProfileStore interface {
	UpsertProfile(ctx context.Context, p domain.Profile) error
	GetProfile(ctx context.Context, handle string) (domain.Profile, error)
}

// HistoryStore persists turns keyed by (handle, session id, seq).
// ReadTurns returns them ordered by seq.
type HistoryStore interface {
	ListSessions(ctx context.Context, handle string) ([]string, error)
	ReadTurns(ctx context.Context, handle, sessionID string) ([]domain.Turn, error)
	AppendTurn(ctx context.Context, t domain.Turn) error
}

type FeedbackStore interface {
	SaveFeedback(ctx context.Context, f domain.Feedback) error
}

// Cache holds session-local state between requests.
type Cache interface {
	Load(ctx context.Context, handle string) (*domain.SessionState, error)
	Save(ctx context.Context, st *domain.SessionState) error
	Delete(ctx context.Context, handle string) error
}
