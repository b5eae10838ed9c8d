package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mantonx/framecache/internal/modules/framemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "ffmpeg", cfg.Backend.Name)
	assert.True(t, cfg.Cache.UseCached)
	assert.False(t, cfg.Cache.WatchSource)
	assert.Equal(t, 500*time.Millisecond, cfg.Progress.Interval)
	assert.Equal(t, "normal", cfg.Display.SeekMode)
	assert.Equal(t, 80, cfg.Display.SnapshotQuality)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
backend:
  name: synthetic
display:
  seek_mode: unsafe
  pixel_format: yv12
  width: 320
`), 0644))

	t.Setenv("FRAMECACHE_PORT", "9100")
	t.Setenv("FRAMECACHE_PROGRESS_INTERVAL", "1s")
	t.Setenv("FRAMECACHE_TRUSTED_PROXIES", "10.0.0.1, 10.0.0.2")

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))
	cfg := cm.GetConfig()

	assert.Equal(t, 9100, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "synthetic", cfg.Backend.Name, "file wins over default")
	assert.Equal(t, "ffprobe", cfg.Backend.FFprobePath, "default kept")
	assert.Equal(t, time.Second, cfg.Progress.Interval)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Server.TrustedProxies)
	assert.Equal(t, path, cm.ConfigPath())

	req := cfg.OutputFormat()
	assert.Equal(t, types.PixelFormatYV12, req.PixelFormat)
	assert.Equal(t, 320, req.Width)
	assert.Equal(t, types.ResizeBicubic, req.Resizer)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Equal(t, 8090, cm.GetConfig().Server.Port)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"FRAMECACHE_PORT": "70000"}},
		{"unparsable port", map[string]string{"FRAMECACHE_PORT": "http"}},
		{"bad seek mode", map[string]string{"FRAMECACHE_SEEK_MODE": "sideways"}},
		{"bad resizer", map[string]string{"FRAMECACHE_RESIZER": "magic"}},
		{"bad pixel format", map[string]string{"FRAMECACHE_PIXEL_FORMAT": "nv12"}},
		{"bad quality", map[string]string{"FRAMECACHE_SNAPSHOT_QUALITY": "0"}},
		{"bad log format", map[string]string{"FRAMECACHE_LOG_FORMAT": "xml"}},
		{"file output without path", map[string]string{"FRAMECACHE_LOG_OUTPUT": "file"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Error(t, NewConfigManager().LoadConfig(""))
		})
	}
}

func TestSaveAndReloadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "framecache.json")

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))
	require.NoError(t, cm.SaveConfig())

	other := NewConfigManager()
	require.NoError(t, other.LoadConfig(path))
	assert.Equal(t, cm.GetConfig(), other.GetConfig())
}

func TestWatchersSeeReloads(t *testing.T) {
	cm := NewConfigManager()
	changed := make(chan int, 1)
	cm.AddWatcher(func(oldConfig, newConfig *Config) {
		changed <- newConfig.Server.Port
	})

	t.Setenv("FRAMECACHE_PORT", "8123")
	require.NoError(t, cm.LoadConfig(""))

	select {
	case port := <-changed:
		assert.Equal(t, 8123, port)
	case <-time.After(time.Second):
		t.Fatal("watcher not called")
	}
}
