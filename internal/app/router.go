package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"appointment-chat/internal/middleware"
)

type RouterOptions struct {
	AllowOrigins []string
	AuthLimiter  *middleware.RateLimiter
}

func (a *App) Router(opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(a.Log))

	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(opts.AllowOrigins) == 0 {
		cc.AllowAllOrigins = true
		cc.AllowCredentials = false
	} else {
		cc.AllowOrigins = opts.AllowOrigins
	}
	router.Use(cors.New(cc))

	router.GET("/healthz", a.HealthHandler)

	// OAuth2 callback (must be before auth middleware)
	router.GET("/oauth2callback", a.GoogleOAuth2CallbackHandler)

	public := router.Group("/auth")
	if opts.AuthLimiter != nil {
		public.Use(opts.AuthLimiter.Middleware())
	}
	{
		public.POST("/register", a.RegisterHandler)
		public.POST("/login", a.LoginHandler)
	}

	api := router.Group("/api")
	api.Use(a.Tokens.Middleware())
	{
		api.GET("/session", a.SessionHandler)
		api.POST("/profile", a.ProfileHandler)
		api.POST("/chat", a.ChatHandler)

		api.GET("/slots", a.GetSlotsHandler)
		api.POST("/bookings", a.CreateBookingHandler)
		api.GET("/bookings", a.ListBookingsHandler)
		api.POST("/booking/cancel", a.CancelBookingHandler)

		api.GET("/sessions", a.ListSessionsHandler)
		api.POST("/sessions/:id/select", a.SelectSessionHandler)

		api.POST("/logout", a.LogoutHandler)
		api.POST("/feedback", a.FeedbackHandler)

		calendar := api.Group("/calendar")
		{
			calendar.GET("/auth", a.GoogleAuthHandler)
		}
	}
	return router
}
