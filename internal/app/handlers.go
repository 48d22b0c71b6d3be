package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"appointment-chat/internal/apperr"
	"appointment-chat/internal/auth"
	"appointment-chat/internal/dialog"
	"appointment-chat/internal/domain"
	"appointment-chat/internal/scheduling"
)

type credentialsRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type profileRequest struct {
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"`
	Reason    string `json:"reason"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
	Skip     bool   `json:"skip"`
}

// sessionView adds the derived UI mode to the session state.
type sessionView struct {
	*domain.SessionState
	Mode domain.Mode `json:"mode"`
}

func viewOf(st *domain.SessionState) sessionView {
	if st == nil {
		st = domain.NewAnonymous()
	}
	return sessionView{SessionState: st, Mode: st.Mode()}
}

// POST /auth/register
func (a *App) RegisterHandler(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "invalid_body")
		return
	}
	if err := a.Sessions.Register(c.Request.Context(), req.Handle, req.Password); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"handle": strings.TrimSpace(req.Handle), "message": "Registration successful. Please log in."})
}

// POST /auth/login
func (a *App) LoginHandler(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "invalid_body")
		return
	}
	st, err := a.Sessions.Login(c.Request.Context(), req.Handle, req.Password)
	if err != nil {
		a.writeError(c, err)
		return
	}
	token, err := a.Tokens.MakeToken(st.Handle)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "session": viewOf(st)})
}

// GET /api/session
func (a *App) SessionHandler(c *gin.Context) {
	st, err := a.Sessions.Snapshot(c.Request.Context(), auth.Handle(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(st))
}

// POST /api/profile
func (a *App) ProfileHandler(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "invalid_body")
		return
	}
	p := domain.Profile{Handle: auth.Handle(c), Name: req.Name, Reason: req.Reason}
	if strings.TrimSpace(req.BirthDate) != "" {
		d, err := scheduling.ParseDate(req.BirthDate)
		if err != nil {
			a.badRequest(c, "invalid_date")
			return
		}
		p.BirthDate = d
	}
	st, err := a.Sessions.SubmitProfile(c.Request.Context(), p)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(st))
}

// POST /api/chat
func (a *App) ChatHandler(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "invalid_body")
		return
	}
	d, st, err := a.Sessions.Say(c.Request.Context(), auth.Handle(c), req.Message)
	if err != nil {
		a.writeError(c, err)
		return
	}
	resp := gin.H{"route": d.Route, "reply": d.Reply, "session": viewOf(st)}
	if d.Degraded {
		resp["degraded"] = true
	}
	if d.Route == dialog.ToxicBlock {
		resp["warning"] = "Your input contains inappropriate language. Please modify your message."
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/sessions
func (a *App) ListSessionsHandler(c *gin.Context) {
	ids, err := a.Sessions.ListSessions(c.Request.Context(), auth.Handle(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids, "count": len(ids)})
}

// POST /api/sessions/:id/select
func (a *App) SelectSessionHandler(c *gin.Context) {
	st, err := a.Sessions.SelectSession(c.Request.Context(), auth.Handle(c), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(st))
}

// POST /api/logout
func (a *App) LogoutHandler(c *gin.Context) {
	st, err := a.Sessions.Logout(c.Request.Context(), auth.Handle(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "We value your feedback! Please share your thoughts or skip.", "session": viewOf(st)})
}

// POST /api/feedback
// {"feedback": "..."} submits, {"skip": true} skips.
func (a *App) FeedbackHandler(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "invalid_body")
		return
	}
	ctx := c.Request.Context()
	handle := auth.Handle(c)

	var (
		st  *domain.SessionState
		err error
	)
	if req.Skip {
		st, err = a.Sessions.SkipFeedback(ctx, handle)
	} else {
		st, err = a.Sessions.SubmitFeedback(ctx, handle, req.Feedback)
	}
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Thank you! You have been logged out.", "session": viewOf(st)})
}

// GET /healthz
func (a *App) HealthHandler(c *gin.Context) {
	if a.Store != nil {
		if err := a.Store.Ping(c.Request.Context()); err != nil {
			a.writeError(c, apperr.Unavailable("store_ping", err))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
