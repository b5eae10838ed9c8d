// Package logger builds the process's hclog root logger from configuration
// and exposes package-level helpers for code without an injected logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/config"
)

var (
	mu   sync.RWMutex
	root hclog.Logger = hclog.Default()
)

// New creates a logger named name from cfg. The returned closer releases a
// log file when one was opened.
func New(name string, cfg config.LoggingConfig) (hclog.Logger, io.Closer, error) {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		return nil, nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output, closer = f, f
	default:
		return nil, nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}

	color := hclog.ColorOff
	if cfg.EnableColors && cfg.Format != "json" {
		color = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     output,
		JSONFormat: cfg.Format == "json",
		Color:      color,
	}), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ForPlugin returns cfg adjusted for running under a plugin host. go-plugin
// parses JSON lines on stderr and re-emits them through the host's logger.
func ForPlugin(cfg config.LoggingConfig) config.LoggingConfig {
	cfg.Format = "json"
	cfg.Output = "stderr"
	cfg.EnableColors = false
	return cfg
}

// SetDefault replaces the logger used by the package-level helpers
func SetDefault(l hclog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
}

// Default returns the logger used by the package-level helpers
func Default() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Info logs informational messages with key/value pairs
func Info(msg string, args ...interface{}) {
	Default().Info(msg, args...)
}

// Warn logs warning messages
func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

// Error logs error messages
func Error(msg string, args ...interface{}) {
	Default().Error(msg, args...)
}

// Debug logs debug messages
func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}
