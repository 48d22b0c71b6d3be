// Package gcal mirrors confirmed bookings into a Google Calendar and holds
// the OAuth bootstrap used to obtain its refresh token.
package gcal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

var ErrNotConfigured = errors.New("gcal: Google Calendar not configured")

// OAuth wraps the oauth2 config for the clinic's calendar account.
type OAuth struct {
	Config *oauth2.Config
}

// NewOAuth returns nil when any of the client credentials is missing.
func NewOAuth(clientID, clientSecret, redirectURL string) *OAuth {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil
	}
	return &OAuth{Config: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{calendar.CalendarEventsScope},
		Endpoint:     google.Endpoint,
	}}
}

// AuthURL returns the consent URL and the random state it carries.
func (o *OAuth) AuthURL() (url, state string, err error) {
	if o == nil {
		return "", "", ErrNotConfigured
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	state = hex.EncodeToString(b)
	return o.Config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), state, nil
}

// Exchange trades an authorization code for a token. The refresh token it
// carries is what GOOGLE_REFRESH_TOKEN expects.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if o == nil {
		return nil, ErrNotConfigured
	}
	tok, err := o.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("gcal: exchange code: %w", err)
	}
	return tok, nil
}
