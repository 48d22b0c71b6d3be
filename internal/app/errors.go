package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"appointment-chat/internal/apperr"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:         http.StatusBadRequest,
	apperr.KindAuth:               http.StatusUnauthorized,
	apperr.KindConflict:           http.StatusConflict,
	apperr.KindStorageUnavailable: http.StatusServiceUnavailable,
	apperr.KindExternalService:    http.StatusBadGateway,
}

var messages = map[string]string{
	"handle_required":      "Please choose a username.",
	"password_required":    "Please choose a password.",
	"password_too_long":    "Passwords can be at most 72 bytes long.",
	"credentials_required": "Username and password are required.",
	"handle_taken":         "Username already exists. Please choose a different username.",
	"invalid_credentials":  "Invalid username or password.",
	"name_required":        "Please enter your name.",
	"reason_required":      "Please tell us the reason for your visit.",
	"utterance_required":   "Please type a message.",
	"not_chatting":         "Chat is not available right now.",
	"illegal_transition":   "That action is not available right now.",
	"feedback_required":    "Please enter your feedback or skip.",
	"unknown_session":      "That conversation could not be found.",
	"session_id_required":  "Please choose a conversation.",
	"invalid_date":         "Dates must look like 2024-06-10.",
	"invalid_slot":         "Times must look like 09:30.",
	"invalid_body":         "The request body is not valid JSON.",
}

func messageFor(err error) string {
	if m, ok := messages[apperr.ReasonOf(err)]; ok {
		return m
	}
	switch apperr.KindOf(err) {
	case apperr.KindStorageUnavailable:
		return "We could not reach our records. Please try again shortly."
	case apperr.KindExternalService:
		return "An external service did not respond. Please try again shortly."
	case apperr.KindAuth:
		return "Authentication failed."
	case apperr.KindValidation:
		return "The request is not valid."
	default:
		return "Something went wrong."
	}
}

// writeError maps err onto its status and writes {"error", "message"}.
func (a *App) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	code := apperr.ReasonOf(err)
	if code == "" {
		code = string(kind)
	}
	if status >= http.StatusInternalServerError {
		a.Log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": messageFor(err)})
}

func (a *App) badRequest(c *gin.Context, reason string) {
	a.writeError(c, apperr.Validation(reason))
}
