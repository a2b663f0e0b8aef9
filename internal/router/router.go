// Package router wires handlers, middleware and route groups.
package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/quizline/quizline-backend/internal/auth"
	"github.com/quizline/quizline-backend/internal/config"
	"github.com/quizline/quizline-backend/internal/handler"
	"github.com/quizline/quizline-backend/internal/middleware"
	"github.com/quizline/quizline-backend/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session    *handler.SessionHandler
	WS         *handler.WSHandler
	Controller *handler.ControllerHandler
	Health     *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, tokens *auth.TokenService, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// ─── Observability ─────────────────────────────────────────────────
	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", handlers.Health.Metrics)

	// Join attempts are rate limited per IP so a room code cannot be
	// brute-forced from one host.
	joinLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── Session REST ──────────────────────────────────────────────────
	api := router.Group("/api/v1/sessions")
	{
		api.POST("", handlers.Session.CreateSession)
		api.POST("/join", joinLimiter.Middleware(), handlers.Session.JoinSession)
		// Results expose the full final standings, so only the host's
		// controller token may read them.
		api.GET("/:session_id/results",
			middleware.Auth(tokens, auth.TokenTypeController),
			handlers.Session.Results)
	}

	// ─── WebSocket channels ────────────────────────────────────────────
	ws := router.Group("/ws/v1/sessions")
	{
		ws.GET("/stream", handlers.WS.ParticipantStream)
		ws.GET("/:session_id/control", handlers.Controller.ControlStream)
		ws.GET("/:session_id/bigscreen", handlers.Controller.BigscreenStream)
	}

	return router
}
