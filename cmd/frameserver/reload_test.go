package main

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/config"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSettings struct {
	mu      sync.Mutex
	mode    types.SeekMode
	format  types.OutputFormatRequest
	formats int
}

func (r *recordedSettings) SetSeekHandling(mode types.SeekMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	return nil
}

func (r *recordedSettings) SetFrameOutputFormat(req types.OutputFormatRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.format = req
	r.formats++
	return nil
}

func (r *recordedSettings) snapshot() (types.SeekMode, types.OutputFormatRequest, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode, r.format, r.formats
}

func TestApplyReload(t *testing.T) {
	log := hclog.New(&hclog.LoggerOptions{Level: hclog.Info, Output: os.Stderr})
	svc := &recordedSettings{}

	oldCfg := config.DefaultConfig()
	newCfg := config.DefaultConfig()
	newCfg.Logging.Level = "debug"
	newCfg.Display.SeekMode = "unsafe"
	newCfg.Display.Width = 320

	applyReload(log, svc)(oldCfg, newCfg)

	assert.True(t, log.IsDebug())
	mode, format, formats := svc.snapshot()
	assert.Equal(t, types.SeekUnsafe, mode)
	assert.Equal(t, 320, format.Width)
	assert.Equal(t, 1, formats)

	// unchanged output format is not pushed again
	applyReload(log, svc)(newCfg, newCfg)
	_, _, formats = svc.snapshot()
	assert.Equal(t, 1, formats)
}

func TestWriteConfigThenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecache.yaml")

	require.Error(t, writeConfig(""))
	require.NoError(t, writeConfig(path))
	require.FileExists(t, path)
	assert.Equal(t, 8090, config.Get().Server.Port)

	log := hclog.New(&hclog.LoggerOptions{Level: hclog.Info, Output: os.Stderr})
	svc := &recordedSettings{}
	config.AddWatcher(applyReload(log, svc))

	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
display:
  seek_mode: unsafe
  width: 160
`), 0644))
	require.NoError(t, config.Load(path))

	require.Eventually(t, func() bool {
		mode, format, _ := svc.snapshot()
		return mode == types.SeekUnsafe && format.Width == 160
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, log.IsDebug, 2*time.Second, 10*time.Millisecond)
}
