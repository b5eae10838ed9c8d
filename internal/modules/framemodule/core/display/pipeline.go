// Package display pushes decoded frames to a render surface.
//
// A Pipeline owns at most one Renderer, bound to the surface handle of the
// last display call. Renderer failures are split in two classes: transient
// failures are logged and swallowed, failures wrapping ErrRendererFatal tear
// the renderer down and surface as FatalDisplayFailed. The next display call
// after a teardown binds a fresh renderer.
package display

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

var (
	// ErrRendererFatal marks a renderer failure that requires a teardown
	ErrRendererFatal = errors.New("renderer failed")

	// ErrSurfaceNotFound indicates the surface handle does not resolve to a surface
	ErrSurfaceNotFound = errors.New("surface not found")
)

// Renderer draws raw planes onto one surface
type Renderer interface {
	Surface() string
	SetSize(width, height int) error
	SetPixelFormat(pf types.PixelFormat) error
	ShowFrame(planes [types.MaxPlanes][]byte, linesize [types.MaxPlanes]int) error
	Close() error
}

// RendererFactory creates a renderer for a surface handle
type RendererFactory func(surface string) (Renderer, error)

// FrameDecoder decodes a frame and hands the picture to fn while it is valid
type FrameDecoder interface {
	Decode(ctx context.Context, track, n int, fn func(*types.DecodedFrame) error) (types.FrameRecord, error)
}

// Stats counts display outcomes
type Stats struct {
	Surface   string `json:"surface,omitempty"`
	Displayed int64  `json:"displayed"`
	Transient int64  `json:"transient_failures"`
	Fatal     int64  `json:"fatal_failures"`
	Binds     int64  `json:"binds"`
}

// Pipeline serializes display calls and renderer (re)binding
type Pipeline struct {
	decoder FrameDecoder
	factory RendererFactory
	logger  hclog.Logger

	mu          sync.Mutex
	renderer    Renderer
	size        types.Resolution
	pixelFormat types.PixelFormat

	displayed int64
	transient int64
	fatal     int64
	binds     int64
}

// NewPipeline creates a display pipeline
func NewPipeline(decoder FrameDecoder, factory RendererFactory, logger hclog.Logger) *Pipeline {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Pipeline{
		decoder: decoder,
		factory: factory,
		logger:  logger.Named("display"),
	}
}

// Display decodes the frame named by record and shows it on surface. It
// returns the record enriched with the decode results.
func (p *Pipeline) Display(ctx context.Context, record types.FrameRecord, surface string) (types.FrameRecord, error) {
	const op = "display_frame"
	if surface == "" {
		return record, ferrors.DisplayError(op, ferrors.ErrSurfaceRequired).
			WithTrack(record.TrackNumber).WithFrame(record.FrameNumber)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.bind(surface); err != nil {
		return record, ferrors.DisplayError(op, err).WithTrack(record.TrackNumber).WithFrame(record.FrameNumber)
	}

	renderer := p.renderer
	shown, err := p.decoder.Decode(ctx, record.TrackNumber, record.FrameNumber, func(f *types.DecodedFrame) error {
		return p.render(renderer, f)
	})
	if err == nil {
		atomic.AddInt64(&p.displayed, 1)
		return shown, nil
	}

	var frameErr *ferrors.FrameError
	if errors.As(err, &frameErr) {
		// decode or validation failure from the locator
		return record, err
	}
	if errors.Is(err, ErrRendererFatal) {
		atomic.AddInt64(&p.fatal, 1)
		p.logger.Error("renderer failed, tearing down", "surface", surface, "frame", record.FrameNumber, "error", err)
		p.teardown()
		return record, ferrors.FatalDisplayError(op, err).WithTrack(record.TrackNumber).WithFrame(record.FrameNumber)
	}

	atomic.AddInt64(&p.transient, 1)
	p.logger.Warn("frame not shown", "surface", surface, "frame", record.FrameNumber, "error", err)
	return record, nil
}

// render configures the renderer for the frame and pushes its planes.
// Caller holds p.mu.
func (p *Pipeline) render(r Renderer, f *types.DecodedFrame) error {
	if f.Resolution != p.size {
		if err := r.SetSize(f.Resolution.Width, f.Resolution.Height); err != nil {
			return fmt.Errorf("set size: %w", err)
		}
		p.size = f.Resolution
	}
	pf := f.PixelFormat
	if pf == types.PixelFormatNone {
		pf = types.DisplayPixelFormat
	}
	if pf != p.pixelFormat {
		if err := r.SetPixelFormat(pf); err != nil {
			return fmt.Errorf("set pixel format: %w", err)
		}
		p.pixelFormat = pf
	}
	return r.ShowFrame(f.Planes, f.Linesize)
}

// bind makes sure the renderer draws on surface. Caller holds p.mu.
func (p *Pipeline) bind(surface string) error {
	if p.renderer != nil && p.renderer.Surface() == surface {
		return nil
	}
	p.teardown()

	if p.factory == nil {
		return fmt.Errorf("%w: no renderer factory configured", ErrSurfaceNotFound)
	}
	r, err := p.factory(surface)
	if err != nil {
		return fmt.Errorf("failed to create renderer for surface %s: %w", surface, err)
	}
	p.renderer = r
	atomic.AddInt64(&p.binds, 1)
	p.logger.Debug("renderer bound", "surface", surface)
	return nil
}

// teardown releases the renderer. Caller holds p.mu.
func (p *Pipeline) teardown() {
	if p.renderer == nil {
		return
	}
	if err := p.renderer.Close(); err != nil {
		p.logger.Debug("renderer close failed", "surface", p.renderer.Surface(), "error", err)
	}
	p.renderer = nil
	p.size = types.Resolution{}
	p.pixelFormat = types.PixelFormatNone
}

// Stats returns the display counters and the bound surface
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	surface := ""
	if p.renderer != nil {
		surface = p.renderer.Surface()
	}
	p.mu.Unlock()
	return Stats{
		Surface:   surface,
		Displayed: atomic.LoadInt64(&p.displayed),
		Transient: atomic.LoadInt64(&p.transient),
		Fatal:     atomic.LoadInt64(&p.fatal),
		Binds:     atomic.LoadInt64(&p.binds),
	}
}

// Close releases the bound renderer
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardown()
}
