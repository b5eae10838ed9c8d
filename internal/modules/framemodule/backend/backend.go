// Package backend defines the contract between the frame module and the
// decode library that does all container parsing and decoding.
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// ProgressFunc receives raw indexing progress, typically bytes read of total
type ProgressFunc func(current, total int64)

// IndexOptions controls an indexing pass
type IndexOptions struct {
	CodecHint string
	Progress  ProgressFunc
}

// SourceOptions controls how a decode source is opened
type SourceOptions struct {
	SeekMode  types.SeekMode
	CodecHint string
}

// Indexer builds seek indexes by demuxing a whole container
type Indexer interface {
	// Index demuxes path and returns per-track frame tables in presentation
	// order. The returned index has no identity set.
	Index(ctx context.Context, path string, opts IndexOptions) (*types.SeekIndex, error)
}

// VideoDecoder is a stateful decode source bound to one video track. It is
// not safe for concurrent use. The returned frame's buffers are reused by the
// next DecodeFrame call.
type VideoDecoder interface {
	SetOutputFormat(format types.OutputFormat) error
	DecodeFrame(ctx context.Context, frame int) (*types.DecodedFrame, error)
	Close() error
}

// Backend opens indexes and decode sources for one decode library
type Backend interface {
	Indexer
	Name() string
	OpenVideoSource(ctx context.Context, idx *types.SeekIndex, track int, opts SourceOptions) (VideoDecoder, error)
}

// Factory creates a backend from its settings
type Factory func(settings map[string]string) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available by name
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Open creates the named backend
func Open(name string, settings map[string]string) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown decode backend %q (available: %v)", name, Names())
	}
	return factory(settings)
}

// Names lists registered backends
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
