package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/scram/api/handler"
	"github.com/use-agent/scram/api/middleware"
	"github.com/use-agent/scram/config"
)

// Service is everything the router needs from service.Service.
type Service interface {
	handler.Fetcher
	handler.Scorer
	handler.StatsSource
}

// NewRouter creates a configured Gin engine with all routes and middleware.
// ctx bounds the middleware's background goroutines.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so monitoring probes always work.
func NewRouter(ctx context.Context, svc Service, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(svc))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	// Fetch
	protected.POST("/fetch", handler.FetchAuto(svc))
	protected.POST("/fetch/direct", handler.FetchDirect(svc))
	protected.POST("/fetch/rendered", handler.FetchRendered(svc, cfg.Browser.Headless))

	// Inference
	protected.POST("/inference", handler.Inference(svc))

	return r
}
