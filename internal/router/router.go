// Package router assembles the gin engine shared by the API binaries:
// core middleware, health and metrics endpoints, and the versioned API
// groups.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/varsling/notification-platform/internal/middleware"
	"github.com/varsling/notification-platform/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

type Router struct {
	engine *gin.Engine
	api    *gin.RouterGroup
}

func New(log *logger.Logger, healthH Handler, cfg Config) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(log),
	)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RPS:   cfg.RateLimitRPS,
		Burst: cfg.RateLimitBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	root := engine.Group("")
	healthH.RegisterRoutes(root)

	return &Router{
		engine: engine,
		api:    engine.Group("/api/v1"),
	}
}

// RegisterPublic mounts a handler without authentication.
func (r *Router) RegisterPublic(h Handler) {
	h.RegisterRoutes(r.api)
}

// RegisterProtected mounts a handler behind token authentication.
func (r *Router) RegisterProtected(auth *middleware.AuthMiddleware, h Handler) {
	group := r.api.Group("")
	group.Use(auth.Authenticate())
	h.RegisterRoutes(group)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
