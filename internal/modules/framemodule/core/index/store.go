// Package index builds, validates, loads and persists seek indexes.
//
// A seek index is cached in a SQLite file next to the source (<file>.idx) or
// at an explicit location. Every cached index embeds the identity of the file
// it was built from and is only served after that identity matches the file
// on disk. After every successful rebuild the cache file is overwritten.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// BuildRequest describes one BuildOrLoad call
type BuildRequest struct {
	FilePath      string
	UseCached     bool
	CacheLocation string
	CodecHint     string
	Progress      backend.ProgressFunc
}

// RebuildReason explains why an index was built rather than loaded
type RebuildReason string

const (
	ReasonNone             RebuildReason = ""
	ReasonNoCache          RebuildReason = "no_cache"
	ReasonCacheDisabled    RebuildReason = "cache_disabled"
	ReasonCacheUnreadable  RebuildReason = "cache_unreadable"
	ReasonIdentityMismatch RebuildReason = "identity_mismatch"
)

// BuildResult is the outcome of BuildOrLoad
type BuildResult struct {
	Index     *types.SeekIndex
	CachePath string
	FromCache bool
	Reason    RebuildReason
	Persisted bool
	Duration  time.Duration

	// CacheError is the failure that forced a rebuild or prevented persisting
	CacheError error
}

// Store builds and caches seek indexes through a backend indexer
type Store struct {
	indexer backend.Indexer
	logger  hclog.Logger
}

// NewStore creates an index store
func NewStore(indexer backend.Indexer, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		indexer: indexer,
		logger:  logger.Named("index-store"),
	}
}

// BuildOrLoad returns the seek index for req.FilePath, loading it from the
// cache when allowed and valid, otherwise rebuilding and persisting it.
// Progress is only reported for rebuilds. On failure no index is returned.
func (s *Store) BuildOrLoad(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	const op = "index"
	start := time.Now()

	if req.FilePath == "" {
		return nil, ferrors.IndexCreationError(op, errors.New("file path is required"))
	}
	info, err := os.Stat(req.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.IndexCreationError(op, fmt.Errorf("%w: %s", ferrors.ErrFileNotFound, req.FilePath))
		}
		return nil, ferrors.IndexCreationError(op, err)
	}
	if info.IsDir() {
		return nil, ferrors.IndexCreationError(op, fmt.Errorf("%s is a directory", req.FilePath))
	}

	result := &BuildResult{CachePath: ResolveCachePath(req.FilePath, req.CacheLocation)}
	logger := s.logger.With("file", req.FilePath, "cache", result.CachePath)

	if !req.UseCached {
		result.Reason = ReasonCacheDisabled
		if err := os.Remove(result.CachePath); err != nil && !os.IsNotExist(err) {
			return nil, ferrors.IndexCreationError(op, fmt.Errorf("failed to delete index cache: %w", err))
		}
	}

	identity, err := Fingerprint(req.FilePath)
	if err != nil {
		return nil, ferrors.IndexCreationError(op, fmt.Errorf("failed to fingerprint source: %w", err))
	}

	if req.UseCached {
		cached, err := readCache(result.CachePath)
		switch {
		case os.IsNotExist(err):
			result.Reason = ReasonNoCache
		case err != nil:
			logger.Warn("cached index unusable, rebuilding", "error", err)
			result.Reason = ReasonCacheUnreadable
			result.CacheError = err
		case !cached.Identity.Matches(identity):
			logger.Warn("cached index belongs to a different file, rebuilding",
				"cached_size", cached.Identity.Size, "file_size", identity.Size)
			result.Reason = ReasonIdentityMismatch
		default:
			cached.File = req.FilePath
			result.Index = cached
			result.FromCache = true
			result.Duration = time.Since(start)
			logger.Info("loaded cached index", "tracks", cached.TrackCount(), "duration", result.Duration)
			return result, nil
		}
	}

	logger.Info("building index", "reason", result.Reason, "codec_hint", req.CodecHint)
	idx, err := s.indexer.Index(ctx, req.FilePath, backend.IndexOptions{
		CodecHint: req.CodecHint,
		Progress:  req.Progress,
	})
	if err != nil {
		return nil, ferrors.IndexCreationError(op, err)
	}
	if err := normalize(idx); err != nil {
		return nil, ferrors.IndexCreationError(op, err)
	}
	idx.File = req.FilePath
	idx.Identity = identity
	idx.CodecHint = req.CodecHint
	result.Index = idx

	if err := writeCache(result.CachePath, idx); err != nil {
		logger.Warn("failed to persist index cache", "error", err)
		result.CacheError = err
	} else {
		result.Persisted = true
	}

	result.Duration = time.Since(start)
	logger.Info("built index", "tracks", idx.TrackCount(), "persisted", result.Persisted, "duration", result.Duration)
	return result, nil
}

// normalize checks backend output and fills derived descriptor fields
func normalize(idx *types.SeekIndex) error {
	if idx == nil {
		return errors.New("indexer returned no index")
	}
	for i := range idx.Tracks {
		t := &idx.Tracks[i]
		if t.Descriptor.TrackNumber != i {
			return fmt.Errorf("track %d reported as number %d", i, t.Descriptor.TrackNumber)
		}
		t.Descriptor.FrameCount = len(t.Frames)
		if t.Descriptor.TimeBaseNum <= 0 || t.Descriptor.TimeBaseDen <= 0 {
			t.Descriptor.TimeBaseNum, t.Descriptor.TimeBaseDen = 1, 1
		}
	}
	return nil
}
