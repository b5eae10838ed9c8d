// Package server builds the standalone HTTP server around the frame module
package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/config"
	"github.com/mantonx/framecache/internal/middleware"
	"github.com/mantonx/framecache/internal/modules/framemodule"
)

// SetupRouter configures and returns the main router
func SetupRouter(cfg *config.Config, module *framemodule.Module, logger hclog.Logger) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.CORS(),
		middleware.RequestLogger(logger),
		middleware.ErrorLogger(logger),
	)

	module.RegisterRoutes(r)
	return r, nil
}

// New creates the HTTP server for an initialized module
func New(cfg *config.Config, module *framemodule.Module, logger hclog.Logger) (*http.Server, error) {
	router, err := SetupRouter(cfg, module, logger)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}, nil
}
