// Command frameserver runs the frame service. Launched by a plugin host it
// serves the "frames" plugin over go-plugin; started by hand it serves the
// HTTP API only.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/config"
	"github.com/mantonx/framecache/internal/logger"
	"github.com/mantonx/framecache/internal/modules/framemodule"
	"github.com/mantonx/framecache/internal/modules/framemodule/remote"
	"github.com/mantonx/framecache/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("FRAMECACHE_CONFIG_PATH"), "path to a YAML or JSON config file")
	serveHTTP := flag.Bool("http", true, "serve the HTTP API and websocket surfaces")
	write := flag.Bool("write-config", false, "write the effective configuration to -config and exit")
	flag.Parse()

	if *write {
		if err := writeConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "frameserver: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath, *serveHTTP); err != nil {
		fmt.Fprintf(os.Stderr, "frameserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, serveHTTP bool) error {
	if configPath == "" {
		if _, err := os.Stat("./framecache.yaml"); err == nil {
			configPath = "./framecache.yaml"
		}
	}
	if err := config.Load(configPath); err != nil {
		return err
	}
	cfg := config.Get()

	pluginMode := os.Getenv(remote.Handshake.MagicCookieKey) == remote.Handshake.MagicCookieValue
	logCfg := cfg.Logging
	if pluginMode {
		logCfg = logger.ForPlugin(logCfg)
	}
	log, closer, err := logger.New("frameserver", logCfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.SetDefault(log)

	gin.SetMode(gin.ReleaseMode)
	module := framemodule.New(cfg, log)
	if err := module.Init(); err != nil {
		return err
	}
	defer module.Shutdown(context.Background())

	config.AddWatcher(applyReload(log, module.Service()))
	reloadCtx, stopReload := context.WithCancel(context.Background())
	defer stopReload()
	go watchReload(reloadCtx, configPath, log)

	var srv *http.Server
	if serveHTTP {
		srv, err = server.New(cfg, module, log)
		if err != nil {
			return err
		}
	}

	if pluginMode {
		if srv != nil {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", "error", err)
				}
			}()
			defer shutdownHTTP(srv, log)
		}
		log.Info("serving frame plugin", "http", serveHTTP)
		remote.Serve(module.Service(), log)
		return nil
	}

	if srv == nil {
		return errors.New("nothing to serve: -http=false outside a plugin host")
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("shutting down")
		shutdownHTTP(srv, log)
	}()

	log.Info("starting frame server", "addr", srv.Addr, "backend", cfg.Backend.Name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func shutdownHTTP(srv *http.Server, log hclog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}
}
