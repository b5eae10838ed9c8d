// Package service exposes the frame module as one FrameService: index a
// media file, then list its tracks and retrieve or display its frames.
//
// A Service holds at most one index generation. Each successful Index call
// replaces the generation and destroys the decode sources of the previous
// one. While an Index call runs every read is rejected with NotIndexed.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/catalog"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/display"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/index"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/locator"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/progress"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/source"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// FrameService is the contract offered across the process boundary
type FrameService interface {
	Index(ctx context.Context, req IndexRequest) error
	OnProgress(fn func(types.Progress)) (cancel func())
	SetSeekHandling(mode types.SeekMode) error
	SetFrameOutputFormat(req types.OutputFormatRequest) error
	ListTracks() ([]types.TrackDescriptor, error)
	GetFrame(ctx context.Context, track, n int) (types.FrameRecord, error)
	GetFrames(ctx context.Context, track int) ([]types.FrameRecord, error)
	GetFrameAtPosition(ctx context.Context, track int, offset int64) (types.FrameRecord, error)
	GetFrameAtTime(ctx context.Context, track int, seconds float64) (types.FrameRecord, error)
	DisplayFrame(ctx context.Context, record types.FrameRecord, surface string) (types.FrameRecord, error)
	Snapshot(ctx context.Context, track, n, quality int) ([]byte, error)
	Status() (*Status, error)
	Close() error
}

// IndexRequest names the file to index and how to treat its cache
type IndexRequest struct {
	File          string `json:"file"`
	UseCached     bool   `json:"use_cached"`
	CacheLocation string `json:"cache_location,omitempty"`
	CodecHint     string `json:"codec_hint,omitempty"`
}

// Config holds service settings
type Config struct {
	ProgressInterval time.Duration
	SeekMode         types.SeekMode
	OutputFormat     types.OutputFormat
	WatchSource      bool
}

// State describes the service lifecycle
type State string

const (
	StateIdle     State = "idle"
	StateIndexing State = "indexing"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// Status is a point-in-time view of the service
type Status struct {
	State         State              `json:"state"`
	File          string             `json:"file,omitempty"`
	CachePath     string             `json:"cache_path,omitempty"`
	FromCache     bool               `json:"from_cache"`
	RebuildReason string             `json:"rebuild_reason,omitempty"`
	IndexDuration time.Duration      `json:"index_duration"`
	Tracks        int                `json:"tracks"`
	Stale         bool               `json:"stale"`
	SeekMode      types.SeekMode     `json:"seek_mode"`
	OutputFormat  types.OutputFormat `json:"output_format"`
	Sources       []source.Status    `json:"sources,omitempty"`
	Display       display.Stats      `json:"display"`
	Progress      progress.Stats     `json:"progress"`
	LastError     string             `json:"last_error,omitempty"`
	LastErrorKind ferrors.Kind       `json:"last_error_kind,omitempty"`
}

// generation is everything derived from one seek index
type generation struct {
	index   *types.SeekIndex
	catalog *catalog.Catalog
	sources *source.Cache
	locator *locator.Locator
	result  *index.BuildResult
}

// Service implements FrameService over a decode backend
type Service struct {
	backend backend.Backend
	store   *index.Store
	logger  hclog.Logger
	cfg     Config

	mu       sync.RWMutex
	gen      *generation
	state    State
	seekMode types.SeekMode
	format   types.OutputFormat
	watcher  *index.Watcher
	progress progress.Stats

	observersMu sync.RWMutex
	observers   map[string]func(types.Progress)

	errMu   sync.Mutex
	lastErr error

	pipeline *display.Pipeline
}

var _ FrameService = (*Service)(nil)

// New creates a service. renderers resolves display surfaces; nil disables
// display.
func New(b backend.Backend, renderers display.RendererFactory, cfg Config, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.SeekMode == "" {
		cfg.SeekMode = types.DefaultSeekMode
	}
	s := &Service{
		backend:   b,
		store:     index.NewStore(b, logger),
		logger:    logger.Named("frame-service"),
		cfg:       cfg,
		state:     StateIdle,
		seekMode:  cfg.SeekMode,
		format:    cfg.OutputFormat,
		observers: make(map[string]func(types.Progress)),
	}
	s.pipeline = display.NewPipeline(generationDecoder{s}, renderers, logger)
	return s
}

// Index builds or loads the seek index of req.File and makes it current
func (s *Service) Index(ctx context.Context, req IndexRequest) error {
	const op = "index"

	s.mu.Lock()
	if s.state == StateIndexing {
		s.mu.Unlock()
		return s.fail(ferrors.IndexCreationError(op, errors.New("indexing already in progress")))
	}
	old, watcher := s.gen, s.watcher
	s.gen, s.watcher = nil, nil
	s.state = StateIndexing
	s.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
	if old != nil {
		if err := old.sources.Close(); err != nil {
			s.logger.Warn("failed to close decode sources", "error", err)
		}
	}

	ch := progress.NewChannel(s.cfg.ProgressInterval, s.logger)
	ch.Subscribe(s.fanOut)

	var lastTotal int64
	result, err := s.store.BuildOrLoad(ctx, index.BuildRequest{
		FilePath:      req.File,
		UseCached:     req.UseCached,
		CacheLocation: req.CacheLocation,
		CodecHint:     req.CodecHint,
		Progress: func(current, total int64) {
			lastTotal = total
			ch.Publish(current, total)
		},
	})
	if err != nil {
		ch.Abandon()
		s.mu.Lock()
		s.state = StateFailed
		s.progress = ch.Stats()
		s.mu.Unlock()
		return s.fail(err)
	}
	if result.FromCache {
		ch.Abandon()
	} else {
		ch.Complete(lastTotal)
	}

	s.mu.Lock()
	cat := catalog.New(result.Index)
	sources := source.NewCache(s.backend, cat, source.Config{SeekMode: s.seekMode, OutputFormat: s.format}, s.logger)
	s.gen = &generation{
		index:   result.Index,
		catalog: cat,
		sources: sources,
		locator: locator.New(cat, sources),
		result:  result,
	}
	s.state = StateReady
	s.progress = ch.Stats()
	s.mu.Unlock()

	if s.cfg.WatchSource {
		s.watch(req.File)
	}
	s.logger.Info("index ready", "file", req.File, "tracks", result.Index.TrackCount(),
		"from_cache", result.FromCache, "operation_id", ch.ID())
	return nil
}

func (s *Service) watch(file string) {
	w, err := index.Watch(file, s.logger, func(ev fsnotify.Event) {
		s.logger.Warn("source changed after indexing", "file", file, "op", ev.Op.String())
	})
	if err != nil {
		s.logger.Warn("cannot watch source file", "file", file, "error", err)
		return
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
}

func (s *Service) fanOut(p types.Progress) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, fn := range s.observers {
		fn(p)
	}
}

// OnProgress registers a progress observer for indexing operations
func (s *Service) OnProgress(fn func(types.Progress)) func() {
	id := uuid.New().String()
	s.observersMu.Lock()
	s.observers[id] = fn
	s.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.observersMu.Lock()
			delete(s.observers, id)
			s.observersMu.Unlock()
		})
	}
}

// SetSeekHandling sets the seek mode of decode sources opened from now on
func (s *Service) SetSeekHandling(mode types.SeekMode) error {
	parsed, err := types.ParseSeekMode(string(mode))
	if err != nil {
		return s.fail(ferrors.InvalidArgument("set_seek_handling", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekMode = parsed
	if s.gen != nil {
		s.gen.sources.SetSeekMode(parsed)
	}
	return nil
}

// SetFrameOutputFormat applies a partial output format update
func (s *Service) SetFrameOutputFormat(req types.OutputFormatRequest) error {
	const op = "set_frame_output_format"
	if req.Width < 0 || req.Height < 0 {
		return s.fail(ferrors.InvalidArgument(op, fmt.Errorf("invalid size %dx%d", req.Width, req.Height)))
	}
	if req.Resizer != "" {
		r, err := types.ParseResizer(string(req.Resizer))
		if err != nil {
			return s.fail(ferrors.InvalidArgument(op, err))
		}
		req.Resizer = r
	}
	pf, err := types.ParsePixelFormat(string(req.PixelFormat))
	if err != nil {
		return s.fail(ferrors.InvalidArgument(op, err))
	}
	req.PixelFormat = pf

	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = s.format.Apply(req)
	if s.gen != nil {
		s.gen.locator.SetOutputFormat(req)
	}
	return nil
}

func (s *Service) current(op string) (*generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gen == nil {
		return nil, ferrors.NotIndexed(op)
	}
	return s.gen, nil
}

// ListTracks lists every track in container order
func (s *Service) ListTracks() ([]types.TrackDescriptor, error) {
	gen, err := s.current("list_tracks")
	if err != nil {
		return nil, s.fail(err)
	}
	tracks, err := gen.catalog.ListTracks()
	return tracks, s.fail(err)
}

// GetFrame returns the metadata of frame n
func (s *Service) GetFrame(ctx context.Context, track, n int) (types.FrameRecord, error) {
	gen, err := s.current("get_frame")
	if err != nil {
		return types.FrameRecord{}, s.fail(err)
	}
	record, err := gen.locator.GetFrameByNumber(ctx, track, n)
	return record, s.fail(err)
}

// GetFrames returns the metadata of every frame of a track
func (s *Service) GetFrames(ctx context.Context, track int) ([]types.FrameRecord, error) {
	gen, err := s.current("get_frames")
	if err != nil {
		return nil, s.fail(err)
	}
	records, err := gen.locator.GetFrames(ctx, track)
	return records, s.fail(err)
}

// GetFrameAtPosition returns the frame at or before a byte offset
func (s *Service) GetFrameAtPosition(ctx context.Context, track int, offset int64) (types.FrameRecord, error) {
	gen, err := s.current("get_frame_at_position")
	if err != nil {
		return types.FrameRecord{}, s.fail(err)
	}
	record, err := gen.locator.GetFrameByPosition(ctx, track, offset)
	return record, s.fail(err)
}

// GetFrameAtTime returns the frame presented at a time in seconds
func (s *Service) GetFrameAtTime(ctx context.Context, track int, seconds float64) (types.FrameRecord, error) {
	gen, err := s.current("get_frame_at_time")
	if err != nil {
		return types.FrameRecord{}, s.fail(err)
	}
	record, err := gen.locator.GetFrameByTime(ctx, track, seconds)
	return record, s.fail(err)
}

// DisplayFrame decodes a frame and shows it on a surface
func (s *Service) DisplayFrame(ctx context.Context, record types.FrameRecord, surface string) (types.FrameRecord, error) {
	if _, err := s.current("display_frame"); err != nil {
		return record, s.fail(err)
	}
	shown, err := s.pipeline.Display(ctx, record, surface)
	return shown, s.fail(err)
}

// Snapshot encodes frame n of a track as WebP
func (s *Service) Snapshot(ctx context.Context, track, n, quality int) ([]byte, error) {
	const op = "snapshot"
	gen, err := s.current(op)
	if err != nil {
		return nil, s.fail(err)
	}

	var data []byte
	_, err = gen.locator.Decode(ctx, track, n, func(f *types.DecodedFrame) error {
		var encErr error
		data, encErr = display.EncodeWebP(f, quality)
		return encErr
	})
	if err != nil {
		return nil, s.fail(ferrors.Wrap(err, ferrors.KindFrameRetrievalFailed, op))
	}
	return data, nil
}

// Status reports the service state
func (s *Service) Status() (*Status, error) {
	s.mu.RLock()
	st := &Status{
		State:        s.state,
		SeekMode:     s.seekMode,
		OutputFormat: s.format,
		Progress:     s.progress,
		Stale:        s.watcher != nil && s.watcher.Stale(),
	}
	gen := s.gen
	s.mu.RUnlock()

	if gen != nil {
		st.File = gen.index.File
		st.Tracks = gen.index.TrackCount()
		st.CachePath = gen.result.CachePath
		st.FromCache = gen.result.FromCache
		st.RebuildReason = string(gen.result.Reason)
		st.IndexDuration = gen.result.Duration
		st.Sources = gen.sources.Sources()
	}
	st.Display = s.pipeline.Stats()

	s.errMu.Lock()
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
		st.LastErrorKind = ferrors.GetKind(s.lastErr)
	}
	s.errMu.Unlock()
	return st, nil
}

// SourcesCreated returns how many decode sources the current index opened
func (s *Service) SourcesCreated() int64 {
	gen, err := s.current("sources_created")
	if err != nil {
		return 0
	}
	return gen.sources.Created()
}

// Close releases the renderer, the decode sources and the watcher
func (s *Service) Close() error {
	s.pipeline.Close()

	s.mu.Lock()
	gen, watcher := s.gen, s.watcher
	s.gen, s.watcher = nil, nil
	s.state = StateIdle
	s.mu.Unlock()

	var errs []error
	if watcher != nil {
		errs = append(errs, watcher.Close())
	}
	if gen != nil {
		errs = append(errs, gen.sources.Close())
	}
	return errors.Join(errs...)
}

// fail records err as the last error and returns it
func (s *Service) fail(err error) error {
	if err == nil {
		return nil
	}
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
	return err
}

// generationDecoder routes display decodes to the current index generation
type generationDecoder struct {
	s *Service
}

func (d generationDecoder) Decode(ctx context.Context, track, n int, fn func(*types.DecodedFrame) error) (types.FrameRecord, error) {
	gen, err := d.s.current("display_frame")
	if err != nil {
		return types.FrameRecord{}, err
	}
	return gen.locator.Decode(ctx, track, n, fn)
}
