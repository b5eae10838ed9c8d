package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/config"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// settings is the part of the frame service a config reload can change
type settings interface {
	SetSeekHandling(mode types.SeekMode) error
	SetFrameOutputFormat(req types.OutputFormatRequest) error
}

// applyReload returns a config watcher for the settings that can change
// without a restart: log level, seek mode and output format. Server, backend
// and cache changes wait for the next start.
func applyReload(log hclog.Logger, svc settings) config.ConfigWatcher {
	return func(oldCfg, newCfg *config.Config) {
		if level := hclog.LevelFromString(newCfg.Logging.Level); level != hclog.NoLevel {
			log.SetLevel(level)
		} else {
			log.Warn("ignoring unknown log level", "level", newCfg.Logging.Level)
		}

		if newCfg.Display.SeekMode != oldCfg.Display.SeekMode {
			mode, err := types.ParseSeekMode(newCfg.Display.SeekMode)
			if err == nil {
				err = svc.SetSeekHandling(mode)
			}
			if err != nil {
				log.Warn("seek mode not applied", "seek_mode", newCfg.Display.SeekMode, "error", err)
			}
		}

		if newCfg.OutputFormat() != oldCfg.OutputFormat() {
			if err := svc.SetFrameOutputFormat(newCfg.OutputFormat()); err != nil {
				log.Warn("output format not applied", "error", err)
			}
		}

		if !reflect.DeepEqual(newCfg.Server, oldCfg.Server) || newCfg.Backend != oldCfg.Backend || newCfg.Cache != oldCfg.Cache {
			log.Warn("server, backend and cache changes apply after a restart")
		}
		log.Info("configuration reloaded")
	}
}

// watchReload reloads the config file on SIGHUP until ctx ends
func watchReload(ctx context.Context, path string, log hclog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if err := config.Load(path); err != nil {
				log.Error("config reload failed", "path", path, "error", err)
			}
		}
	}
}

// writeConfig writes the effective configuration (defaults, file and
// environment merged) back to path
func writeConfig(path string) error {
	if path == "" {
		return errors.New("-write-config needs -config")
	}
	if err := config.Load(path); err != nil {
		return err
	}
	return config.Save()
}
