package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	"github.com/mantonx/framecache/internal/modules/framemodule/backend/synthetic"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeContainer(t *testing.T, dir, name string, c *synthetic.Container) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, synthetic.Write(path, c))
	return path
}

type countingIndexer struct {
	backend.Indexer
	calls int32
}

func (c *countingIndexer) Index(ctx context.Context, path string, opts backend.IndexOptions) (*types.SeekIndex, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.Indexer.Index(ctx, path, opts)
}

func newTestStore() (*Store, *countingIndexer) {
	indexer := &countingIndexer{Indexer: synthetic.New()}
	return NewStore(indexer, hclog.NewNullLogger()), indexer
}

func TestBuildOrLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := writeContainer(t, dir, "clip.synth", synthetic.SimpleContainer(120))
	store, indexer := newTestStore()
	ctx := context.Background()

	var progressCalls int32
	first, err := store.BuildOrLoad(ctx, BuildRequest{
		FilePath: file,
		Progress: func(current, total int64) { atomic.AddInt32(&progressCalls, 1) },
	})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.True(t, first.Persisted)
	assert.Equal(t, ReasonCacheDisabled, first.Reason)
	assert.Equal(t, file+".idx", first.CachePath)
	assert.FileExists(t, first.CachePath)
	assert.Positive(t, atomic.LoadInt32(&progressCalls))

	atomic.StoreInt32(&progressCalls, 0)
	second, err := store.BuildOrLoad(ctx, BuildRequest{
		FilePath:  file,
		UseCached: true,
		Progress:  func(current, total int64) { atomic.AddInt32(&progressCalls, 1) },
	})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, int32(1), atomic.LoadInt32(&indexer.calls), "cached load must not rebuild")
	assert.Zero(t, atomic.LoadInt32(&progressCalls), "cache loads emit no progress")

	assert.Equal(t, first.Index.Identity, second.Index.Identity)
	assert.Equal(t, first.Index.Tracks, second.Index.Tracks)
}

func TestBuildOrLoad_DetectsForeignCache(t *testing.T) {
	dir := t.TempDir()
	original := writeContainer(t, dir, "original.synth", synthetic.SimpleContainer(50))
	other := writeContainer(t, dir, "other.synth", synthetic.SimpleContainer(80))
	store, indexer := newTestStore()
	ctx := context.Background()

	_, err := store.BuildOrLoad(ctx, BuildRequest{FilePath: original})
	require.NoError(t, err)
	_, err = store.BuildOrLoad(ctx, BuildRequest{FilePath: other})
	require.NoError(t, err)

	// swap in the other file's cache
	data, err := os.ReadFile(other + ".idx")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(original+".idx", data, 0644))

	result, err := store.BuildOrLoad(ctx, BuildRequest{FilePath: original, UseCached: true})
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Equal(t, ReasonIdentityMismatch, result.Reason)
	assert.Equal(t, int32(3), atomic.LoadInt32(&indexer.calls))
	assert.Equal(t, 50, result.Index.Tracks[0].Descriptor.FrameCount)

	// the rebuilt index replaced the foreign cache
	reloaded, err := store.BuildOrLoad(ctx, BuildRequest{FilePath: original, UseCached: true})
	require.NoError(t, err)
	assert.True(t, reloaded.FromCache)
	assert.Equal(t, 50, reloaded.Index.Tracks[0].Descriptor.FrameCount)
}

func TestBuildOrLoad_UnreadableCacheFallsBack(t *testing.T) {
	dir := t.TempDir()
	file := writeContainer(t, dir, "clip.synth", synthetic.SimpleContainer(10))
	require.NoError(t, os.WriteFile(file+".idx", []byte("not an index"), 0644))
	store, _ := newTestStore()

	result, err := store.BuildOrLoad(context.Background(), BuildRequest{FilePath: file, UseCached: true})
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Equal(t, ReasonCacheUnreadable, result.Reason)
	assert.Error(t, result.CacheError)
	assert.True(t, result.Persisted)
}

func TestBuildOrLoad_CacheLocationOverride(t *testing.T) {
	dir := t.TempDir()
	file := writeContainer(t, dir, "clip.synth", synthetic.SimpleContainer(10))
	override := filepath.Join(dir, "elsewhere.idx")
	store, _ := newTestStore()

	result, err := store.BuildOrLoad(context.Background(), BuildRequest{FilePath: file, CacheLocation: override})
	require.NoError(t, err)
	assert.Equal(t, override, result.CachePath)
	assert.FileExists(t, override)
	assert.NoFileExists(t, file+".idx")
}

func TestBuildOrLoad_NoCacheMeansBuild(t *testing.T) {
	dir := t.TempDir()
	file := writeContainer(t, dir, "clip.synth", synthetic.SimpleContainer(10))
	store, _ := newTestStore()

	result, err := store.BuildOrLoad(context.Background(), BuildRequest{FilePath: file, UseCached: true})
	require.NoError(t, err)
	assert.Equal(t, ReasonNoCache, result.Reason)
	assert.True(t, result.Persisted)
}

func TestBuildOrLoad_Failures(t *testing.T) {
	dir := t.TempDir()
	store, _ := newTestStore()
	ctx := context.Background()

	_, err := store.BuildOrLoad(ctx, BuildRequest{FilePath: filepath.Join(dir, "missing.synth")})
	require.Error(t, err)
	assert.True(t, ferrors.IsKind(err, ferrors.KindIndexCreationFailed))
	assert.True(t, errors.Is(err, ferrors.ErrFileNotFound))

	_, err = store.BuildOrLoad(ctx, BuildRequest{})
	assert.True(t, ferrors.IsKind(err, ferrors.KindIndexCreationFailed))

	broken := synthetic.SimpleContainer(10)
	broken.FailIndex = true
	file := writeContainer(t, dir, "broken.synth", broken)
	result, err := store.BuildOrLoad(ctx, BuildRequest{FilePath: file})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, ferrors.IsKind(err, ferrors.KindIndexCreationFailed))
	assert.NoFileExists(t, file+".idx")
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	file := writeContainer(t, dir, "clip.synth", synthetic.SimpleContainer(10))

	a, err := Fingerprint(file)
	require.NoError(t, err)
	b, err := Fingerprint(file)
	require.NoError(t, err)
	assert.True(t, a.Matches(b))

	copied := filepath.Join(dir, "copy.synth")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(copied, data, 0644))
	c, err := Fingerprint(copied)
	require.NoError(t, err)
	assert.True(t, a.Matches(c), "identity ignores the file name")

	require.NoError(t, os.WriteFile(copied, append(data, '\n'), 0644))
	d, err := Fingerprint(copied)
	require.NoError(t, err)
	assert.False(t, a.Matches(d))
}

func TestFingerprint_LargeFileHashesTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	data := make([]byte, 3*fingerprintChunk)
	require.NoError(t, os.WriteFile(path, data, 0644))
	a, err := Fingerprint(path)
	require.NoError(t, err)

	data[len(data)-1] = 1
	require.NoError(t, os.WriteFile(path, data, 0644))
	b, err := Fingerprint(path)
	require.NoError(t, err)
	assert.False(t, a.Matches(b))
}

func TestWatcherMarksStale(t *testing.T) {
	dir := t.TempDir()
	file := writeContainer(t, dir, "clip.synth", synthetic.SimpleContainer(10))

	var changes int32
	w, err := Watch(file, hclog.NewNullLogger(), func(ev fsnotify.Event) { atomic.AddInt32(&changes, 1) })
	require.NoError(t, err)
	defer w.Close()
	assert.False(t, w.Stale())

	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("# touched\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, w.Stale, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, atomic.LoadInt32(&changes))
	require.NoError(t, w.Close())
}
