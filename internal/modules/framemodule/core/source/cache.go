// Package source memoizes one decode source per video track.
//
// Sources are created on first use with an atomic insert-if-absent, fully
// configured before any caller can see them, and destroyed together when the
// cache is closed. Each source serializes its own decode calls.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/catalog"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

var errCacheClosed = errors.New("source cache closed")

// Config holds the initial source settings
type Config struct {
	SeekMode     types.SeekMode
	OutputFormat types.OutputFormat
}

// Cache owns the decode sources of one seek index
type Cache struct {
	backend backend.Backend
	catalog *catalog.Catalog
	logger  hclog.Logger

	mu         sync.RWMutex
	seekMode   types.SeekMode
	format     types.OutputFormat
	generation uint64

	entries sync.Map // track number -> *entry
	created int64
	closed  atomic.Bool
}

type entry struct {
	once      sync.Once
	handle    *Handle
	err       error
	published atomic.Pointer[Handle]
}

// NewCache creates a source cache for the index behind cat
func NewCache(b backend.Backend, cat *catalog.Catalog, cfg Config, logger hclog.Logger) *Cache {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.SeekMode == "" {
		cfg.SeekMode = types.DefaultSeekMode
	}
	return &Cache{
		backend:  b,
		catalog:  cat,
		logger:   logger.Named("source-cache"),
		seekMode: cfg.SeekMode,
		format:   cfg.OutputFormat,
	}
}

// Get returns the decode source of a video track, creating it on first use.
// Concurrent callers for the same track share one construction.
func (c *Cache) Get(ctx context.Context, track int) (*Handle, error) {
	const op = "get_video_source"

	desc, err := c.catalog.VideoTrack(op, track)
	if err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, ferrors.New(ferrors.KindNotIndexed, op, errCacheClosed).WithTrack(track)
	}

	v, _ := c.entries.LoadOrStore(track, &entry{})
	e := v.(*entry)
	e.once.Do(func() {
		e.handle, e.err = c.open(ctx, desc.Descriptor)
		if e.handle != nil {
			e.published.Store(e.handle)
		}
	})
	if e.err != nil {
		// failed constructions are not memoized
		c.entries.CompareAndDelete(track, e)
		return nil, e.err
	}
	if c.closed.Load() {
		// lost a race with Close after the sweep
		e.handle.close()
		return nil, ferrors.New(ferrors.KindNotIndexed, op, errCacheClosed).WithTrack(track)
	}
	return e.handle, nil
}

func (c *Cache) open(ctx context.Context, desc types.TrackDescriptor) (*Handle, error) {
	const op = "open_video_source"
	track := desc.TrackNumber

	if c.closed.Load() {
		return nil, ferrors.New(ferrors.KindNotIndexed, op, errCacheClosed).WithTrack(track)
	}

	c.mu.RLock()
	mode, format, gen := c.seekMode, c.format, c.generation
	c.mu.RUnlock()

	idx := c.catalog.Index()
	dec, err := c.backend.OpenVideoSource(ctx, idx, track, backend.SourceOptions{
		SeekMode:  mode,
		CodecHint: idx.CodecHint,
	})
	if err != nil {
		return nil, ferrors.RetrievalError(op, fmt.Errorf("failed to open decode source: %w", err)).WithTrack(track)
	}

	// the first frame tells us the encoded geometry
	sample, err := dec.DecodeFrame(ctx, 0)
	if err != nil {
		dec.Close()
		return nil, ferrors.RetrievalError(op, fmt.Errorf("failed to decode sample frame: %w", err)).WithTrack(track).WithFrame(0)
	}
	encoded := sample.Resolution
	encodedFormat := sample.PixelFormat
	if encoded.IsZero() {
		encoded = desc.Encoded
	}
	if encodedFormat == types.PixelFormatNone {
		encodedFormat = desc.PixelFormat
	}

	applied := format.Resolve(encoded, encodedFormat)
	if err := dec.SetOutputFormat(applied); err != nil {
		dec.Close()
		return nil, ferrors.RetrievalError(op, fmt.Errorf("failed to set output format: %w", err)).WithTrack(track)
	}

	h := &Handle{
		cache:         c,
		descriptor:    desc,
		decoder:       dec,
		seekMode:      mode,
		encoded:       encoded,
		encodedFormat: encodedFormat,
		applied:       applied,
		generation:    gen,
	}
	n := atomic.AddInt64(&c.created, 1)
	c.logger.Debug("opened decode source", "track", track, "seek_mode", mode,
		"encoded", encoded.String(), "output", fmt.Sprintf("%dx%d %s", applied.Width, applied.Height, applied.PixelFormat),
		"sources_created", n)
	return h, nil
}

// SetSeekMode sets the mode used by sources created from now on. Existing
// sources keep the mode they were opened with.
func (c *Cache) SetSeekMode(mode types.SeekMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekMode = mode
}

// SeekMode returns the mode for new sources
func (c *Cache) SeekMode() types.SeekMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seekMode
}

// SetOutputFormat applies a partial format update. Existing sources pick it
// up before their next decode.
func (c *Cache) SetOutputFormat(req types.OutputFormatRequest) types.OutputFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.format = c.format.Apply(req)
	c.generation++
	return c.format
}

// OutputFormat returns the configured format overrides
func (c *Cache) OutputFormat() types.OutputFormat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

func (c *Cache) currentFormat() (types.OutputFormat, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format, c.generation
}

// Created returns how many sources were constructed
func (c *Cache) Created() int64 {
	return atomic.LoadInt64(&c.created)
}

// Sources reports the live sources ordered by track
func (c *Cache) Sources() []Status {
	var out []Status
	c.entries.Range(func(_, v interface{}) bool {
		e := v.(*entry)
		if h := e.ready(); h != nil {
			out = append(out, h.Status())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Track < out[j].Track })
	return out
}

// Close destroys every source. Constructions in flight finish first.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	var errs []error
	c.entries.Range(func(k, v interface{}) bool {
		e := v.(*entry)
		e.once.Do(func() { e.err = errCacheClosed })
		if e.handle != nil {
			if err := e.handle.close(); err != nil {
				errs = append(errs, fmt.Errorf("track %v: %w", k, err))
			}
		}
		c.entries.Delete(k)
		return true
	})
	c.logger.Debug("closed decode sources", "created", c.Created())
	return errors.Join(errs...)
}

// ready returns the handle without waiting on a construction in flight
func (e *entry) ready() *Handle {
	return e.published.Load()
}
