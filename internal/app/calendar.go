package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GET /api/calendar/auth
// Starts the OAuth flow that yields the refresh token the booking mirror
// runs with.
func (a *App) GoogleAuthHandler(c *gin.Context) {
	url, state, err := a.OAuth.AuthURL()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "calendar_not_configured", "message": "Google Calendar not configured"})
		return
	}
	a.states.Store(state, time.Now().Add(oauthStateTTL))
	c.JSON(http.StatusOK, gin.H{
		"auth_url": url,
		"state":    state,
	})
}

// GET /oauth2callback
func (a *App) GoogleOAuth2CallbackHandler(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code_required", "message": "authorization code required"})
		return
	}
	v, ok := a.states.LoadAndDelete(state)
	if !ok || time.Now().After(v.(time.Time)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state", "message": "unknown or expired OAuth state"})
		return
	}

	token, err := a.OAuth.Exchange(c.Request.Context(), code)
	if err != nil {
		a.Log.Warn("oauth exchange failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange_failed", "message": "failed to exchange code for token"})
		return
	}
	a.Log.Info("calendar authorized", "has_refresh_token", token.RefreshToken != "")

	c.JSON(http.StatusOK, gin.H{
		"message":       "Authorization successful. Set GOOGLE_REFRESH_TOKEN to enable the booking mirror.",
		"refresh_token": token.RefreshToken,
	})
}
