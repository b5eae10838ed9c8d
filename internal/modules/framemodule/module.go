// Package framemodule wires the frame cache together: it opens the configured
// decode backend, builds the frame service with its display surfaces, and
// exposes the HTTP routes.
package framemodule

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/config"
	"github.com/mantonx/framecache/internal/modules/framemodule/api"
	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/display"
	"github.com/mantonx/framecache/internal/modules/framemodule/service"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"

	// Register the decode backends
	_ "github.com/mantonx/framecache/internal/modules/framemodule/backend/ffmpeg"
	_ "github.com/mantonx/framecache/internal/modules/framemodule/backend/synthetic"
)

const (
	// ModuleID is the unique identifier for the frame module
	ModuleID = "system.frames"

	// ModuleName is the display name for the frame module
	ModuleName = "Frame Cache"

	// ModuleVersion is the version of the frame module
	ModuleVersion = "1.0.0"

	// RoutePrefix is where the HTTP routes are mounted
	RoutePrefix = "/api/v1/frames"
)

// Module owns the frame service and its collaborators
type Module struct {
	cfg    *config.Config
	logger hclog.Logger

	backend backend.Backend
	hub     *display.SurfaceHub
	service *service.Service
}

// New creates an uninitialized module
func New(cfg *config.Config, logger hclog.Logger) *Module {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Module{cfg: cfg, logger: logger.Named("frames")}
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// Init opens the backend and builds the service
func (m *Module) Init() error {
	m.logger.Info("initializing frame module", "backend", m.cfg.Backend.Name)

	b, err := backend.Open(m.cfg.Backend.Name, map[string]string{
		"ffmpeg_path":  m.cfg.Backend.FFmpegPath,
		"ffprobe_path": m.cfg.Backend.FFprobePath,
	})
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}

	seekMode, err := types.ParseSeekMode(m.cfg.Display.SeekMode)
	if err != nil {
		return fmt.Errorf("invalid seek mode: %w", err)
	}

	m.backend = b
	m.hub = display.NewSurfaceHub(m.cfg.Display.WriteTimeout, m.logger)
	m.service = service.New(b, m.hub.NewRenderer, service.Config{
		ProgressInterval: m.cfg.Progress.Interval,
		SeekMode:         seekMode,
		OutputFormat:     types.OutputFormat{}.Apply(m.cfg.OutputFormat()),
		WatchSource:      m.cfg.Cache.WatchSource,
	}, m.logger)

	m.logger.Info("frame module initialized", "seek_mode", seekMode)
	return nil
}

// Service returns the frame service; nil before Init
func (m *Module) Service() *service.Service {
	return m.service
}

// Surfaces returns the websocket surface hub; nil before Init
func (m *Module) Surfaces() *display.SurfaceHub {
	return m.hub
}

// IndexRequest builds an index request for file from the cache settings
func (m *Module) IndexRequest(file string) service.IndexRequest {
	return service.IndexRequest{
		File:          file,
		UseCached:     m.cfg.Cache.UseCached,
		CacheLocation: m.cfg.Cache.Location,
		CodecHint:     m.cfg.Backend.CodecHint,
	}
}

// RegisterRoutes registers HTTP routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	handler := api.NewHandler(m.service, m.hub, m.logger)
	api.RegisterRoutes(router.Group(RoutePrefix), handler)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "module": ModuleID, "version": ModuleVersion})
	})
	m.logger.Debug("frame module routes registered", "prefix", RoutePrefix)
}

// Shutdown releases the service and closes attached surfaces
func (m *Module) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down frame module")

	var err error
	if m.service != nil {
		err = m.service.Close()
	}
	if m.hub != nil {
		m.hub.Close()
	}
	return err
}
