package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

var errHandleClosed = errors.New("decode source closed")

// Status describes a live decode source
type Status struct {
	Track     int                `json:"track"`
	SeekMode  types.SeekMode     `json:"seek_mode"`
	Encoded   types.Resolution   `json:"encoded"`
	Output    types.OutputFormat `json:"output"`
	Decodes   int64              `json:"decodes"`
	LastFrame int                `json:"last_frame"`
}

// Handle is the decode source of one track. Decode calls on a handle are
// serialized; the decoded frame passed to the callback is only valid inside
// it.
type Handle struct {
	cache         *Cache
	descriptor    types.TrackDescriptor
	seekMode      types.SeekMode
	encoded       types.Resolution
	encodedFormat types.PixelFormat

	mu         sync.Mutex
	decoder    backend.VideoDecoder
	applied    types.OutputFormat
	generation uint64
	lastFrame  int
	closed     bool

	decodes int64
}

// Decode decodes frame n and hands it to fn while holding the source lock
func (h *Handle) Decode(ctx context.Context, n int, fn func(*types.DecodedFrame) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errHandleClosed
	}
	if err := h.syncFormat(); err != nil {
		return err
	}

	frame, err := h.decoder.DecodeFrame(ctx, n)
	if err != nil {
		return err
	}
	atomic.AddInt64(&h.decodes, 1)
	h.lastFrame = n
	if fn == nil {
		return nil
	}
	return fn(frame)
}

// syncFormat applies a newer cache-wide output format. Caller holds h.mu.
func (h *Handle) syncFormat() error {
	format, gen := h.cache.currentFormat()
	if gen == h.generation {
		return nil
	}
	next := format.Resolve(h.encoded, h.encodedFormat)
	if next != h.applied {
		if err := h.decoder.SetOutputFormat(next); err != nil {
			return fmt.Errorf("failed to apply output format: %w", err)
		}
		h.applied = next
	}
	h.generation = gen
	return nil
}

// Status reports the handle's state
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		Track:     h.descriptor.TrackNumber,
		SeekMode:  h.seekMode,
		Encoded:   h.encoded,
		Output:    h.applied,
		Decodes:   atomic.LoadInt64(&h.decodes),
		LastFrame: h.lastFrame,
	}
}

func (h *Handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.decoder.Close()
}
