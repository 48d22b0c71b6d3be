// Package app is the HTTP surface over the session machine and the
// scheduling service.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"appointment-chat/internal/auth"
	"appointment-chat/internal/integrations/gcal"
	"appointment-chat/internal/logger"
	"appointment-chat/internal/scheduling"
	"appointment-chat/internal/session"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Sessions *session.Machine
	Booking  *scheduling.Service
	Tokens   *auth.Issuer
	OAuth    *gcal.OAuth
	Store    Pinger
	Log      *logger.Logger

	// OAuth states issued by GoogleAuthHandler, keyed by state.
	states sync.Map
}

func New(sessions *session.Machine, booking *scheduling.Service, tokens *auth.Issuer, store Pinger, log *logger.Logger) (*App, error) {
	switch {
	case sessions == nil:
		return nil, errors.New("app: session machine must not be nil")
	case booking == nil:
		return nil, errors.New("app: scheduling service must not be nil")
	case tokens == nil:
		return nil, errors.New("app: token issuer must not be nil")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &App{
		Sessions: sessions,
		Booking:  booking,
		Tokens:   tokens,
		Store:    store,
		Log:      log.With("component", "HTTP"),
	}, nil
}

const oauthStateTTL = 10 * time.Minute
