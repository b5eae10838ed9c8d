package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/backend/synthetic"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/display"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/index"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRenderer struct {
	surface string
	mu      sync.Mutex
	shown   int
}

func (r *countingRenderer) Surface() string { return r.surface }

func (r *countingRenderer) SetSize(int, int) error { return nil }

func (r *countingRenderer) SetPixelFormat(types.PixelFormat) error { return nil }

func (r *countingRenderer) Close() error { return nil }

func (r *countingRenderer) ShowFrame([types.MaxPlanes][]byte, [types.MaxPlanes]int) error {
	r.mu.Lock()
	r.shown++
	r.mu.Unlock()
	return nil
}

func writeClip(t *testing.T, name string, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, synthetic.Write(path, synthetic.SimpleContainer(frames)))
	return path
}

func newService(t *testing.T) (*Service, *synthetic.Backend, *countingRenderer) {
	t.Helper()
	b := synthetic.New()
	r := &countingRenderer{surface: "window-1"}
	factory := func(surface string) (display.Renderer, error) {
		if surface != r.surface {
			return nil, fmt.Errorf("%w: %s", display.ErrSurfaceNotFound, surface)
		}
		return r, nil
	}
	s := New(b, factory, Config{ProgressInterval: 10 * time.Millisecond}, hclog.NewNullLogger())
	t.Cleanup(func() { s.Close() })
	return s, b, r
}

func TestOperationsBeforeIndexFail(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.ListTracks()
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotIndexed))
	_, err = s.GetFrame(ctx, 0, 0)
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotIndexed))
	_, err = s.GetFrameAtTime(ctx, 0, 1)
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotIndexed))
	_, err = s.DisplayFrame(ctx, types.FrameRecord{}, "window-1")
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotIndexed))
	_, err = s.Snapshot(ctx, 0, 0, 80)
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotIndexed))

	status, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, ferrors.KindNotIndexed, status.LastErrorKind)
}

func TestListTracksNumbering(t *testing.T) {
	s, _, _ := newService(t)
	require.NoError(t, s.Index(context.Background(), IndexRequest{File: writeClip(t, "a.synth", 20), UseCached: true}))

	tracks, err := s.ListTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	for n, track := range tracks {
		assert.Equal(t, n, track.TrackNumber)
	}
	assert.Equal(t, types.TrackTypeVideo, tracks[0].Type)
	assert.Equal(t, types.TrackTypeAudio, tracks[1].Type)
}

func TestGetFrameIsIdempotent(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, s.Index(ctx, IndexRequest{File: writeClip(t, "a.synth", 50), UseCached: true}))

	first, err := s.GetFrame(ctx, 0, 17)
	require.NoError(t, err)
	second, err := s.GetFrame(ctx, 0, 17)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFrameBoundaries(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, s.Index(ctx, IndexRequest{File: writeClip(t, "a.synth", 50), UseCached: true}))

	_, err := s.GetFrame(ctx, 0, 50)
	assert.True(t, ferrors.IsKind(err, ferrors.KindFrameOutOfRange))
	_, err = s.GetFrame(ctx, 0, -1)
	assert.True(t, ferrors.IsKind(err, ferrors.KindFrameOutOfRange))
	record, err := s.GetFrame(ctx, 0, 49)
	require.NoError(t, err)
	assert.Equal(t, 49, record.FrameNumber)

	_, err = s.GetFrame(ctx, 2, 0)
	assert.True(t, ferrors.IsKind(err, ferrors.KindTrackOutOfRange))
	_, err = s.GetFrame(ctx, 1, 0)
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotVideoTrack))
}

func TestIndexRoundTripLoadsCache(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	file := writeClip(t, "a.synth", 200)

	var mu sync.Mutex
	var updates []types.Progress
	cancel := s.OnProgress(func(p types.Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	})
	defer cancel()

	require.NoError(t, s.Index(ctx, IndexRequest{File: file, UseCached: false}))
	status, err := s.Status()
	require.NoError(t, err)
	assert.False(t, status.FromCache)
	assert.Equal(t, string(index.ReasonCacheDisabled), status.RebuildReason)
	assert.FileExists(t, file+".idx")

	mu.Lock()
	rebuildUpdates := len(updates)
	mu.Unlock()
	require.NotZero(t, rebuildUpdates)

	require.NoError(t, s.Index(ctx, IndexRequest{File: file, UseCached: true}))
	status, err = s.Status()
	require.NoError(t, err)
	assert.True(t, status.FromCache)
	assert.Equal(t, StateReady, status.State)

	mu.Lock()
	assert.Equal(t, rebuildUpdates, len(updates), "cache loads publish no progress")
	mu.Unlock()
}

func TestIndexDetectsForeignCache(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	original := writeClip(t, "original.synth", 120)
	other := writeClip(t, "other.synth", 40)

	require.NoError(t, s.Index(ctx, IndexRequest{File: original, UseCached: false}))
	require.NoError(t, s.Index(ctx, IndexRequest{File: other, UseCached: false}))

	// swap the persisted index for the other file's
	data, err := os.ReadFile(other + ".idx")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(original+".idx", data, 0644))

	require.NoError(t, s.Index(ctx, IndexRequest{File: original, UseCached: true}))
	status, err := s.Status()
	require.NoError(t, err)
	assert.False(t, status.FromCache)
	assert.Equal(t, string(index.ReasonIdentityMismatch), status.RebuildReason)

	record, err := s.GetFrame(ctx, 0, 119)
	require.NoError(t, err, "frames come from the rebuilt index")
	assert.Equal(t, 119, record.FrameNumber)
}

func TestProgressIsMonotonicAndCompletes(t *testing.T) {
	s, _, _ := newService(t)
	file := writeClip(t, "a.synth", 500)

	var mu sync.Mutex
	var updates []types.Progress
	s.OnProgress(func(p types.Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	})

	require.NoError(t, s.Index(context.Background(), IndexRequest{File: file, UseCached: false}))

	// nothing arrives after completion
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Current, updates[i-1].Current)
	}
	last := updates[len(updates)-1]
	assert.Equal(t, last.Total, last.Current)
	assert.True(t, last.Done())
}

func TestConcurrentFirstAccessCreatesOneSource(t *testing.T) {
	s, b, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, s.Index(ctx, IndexRequest{File: writeClip(t, "a.synth", 30), UseCached: true}))

	const callers = 24
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.GetFrame(ctx, 0, n)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), s.SourcesCreated())
	assert.Equal(t, int64(1), b.Opened())
}

func TestForwardBackwardScenario(t *testing.T) {
	s, _, renderer := newService(t)
	ctx := context.Background()
	require.NoError(t, s.Index(ctx, IndexRequest{File: writeClip(t, "long.synth", 1001), UseCached: true}))
	require.NoError(t, s.SetSeekHandling(types.SeekUnsafe))
	require.NoError(t, s.SetFrameOutputFormat(types.OutputFormatRequest{PixelFormat: types.PixelFormatYV12}))

	type view struct {
		pts      int64
		keyFrame bool
		filePos  int64
	}
	forward := make(map[int]view, 1001)
	for n := 0; n <= 1000; n++ {
		record, err := s.GetFrame(ctx, 0, n)
		require.NoError(t, err)
		shown, err := s.DisplayFrame(ctx, record, "window-1")
		require.NoError(t, err)
		assert.Equal(t, record.PTS, shown.PTS)
		forward[n] = view{record.PTS, record.KeyFrame, record.FilePos}
	}
	for n := 1000; n >= 0; n-- {
		record, err := s.GetFrame(ctx, 0, n)
		require.NoError(t, err)
		_, err = s.DisplayFrame(ctx, record, "window-1")
		require.NoError(t, err)
		assert.Equal(t, forward[n], view{record.PTS, record.KeyFrame, record.FilePos}, "frame %d", n)
	}

	assert.Equal(t, 2002, renderer.shown)
	status, err := s.Status()
	require.NoError(t, err)
	require.Len(t, status.Sources, 1)
	assert.Equal(t, types.SeekUnsafe, status.Sources[0].SeekMode)
	assert.Equal(t, types.PixelFormatYV12, status.Sources[0].Output.PixelFormat)
	assert.Equal(t, int64(2002), status.Display.Displayed)
}

func TestIndexReplacesSources(t *testing.T) {
	s, b, _ := newService(t)
	ctx := context.Background()
	file := writeClip(t, "a.synth", 30)

	require.NoError(t, s.Index(ctx, IndexRequest{File: file, UseCached: true}))
	_, err := s.GetFrame(ctx, 0, 1)
	require.NoError(t, err)
	require.NoError(t, s.Index(ctx, IndexRequest{File: file, UseCached: true}))
	assert.Zero(t, s.SourcesCreated(), "the new generation starts without sources")

	_, err = s.GetFrame(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Opened())
}

func TestIndexFailure(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	err := s.Index(ctx, IndexRequest{File: filepath.Join(t.TempDir(), "missing.synth"), UseCached: true})
	assert.True(t, ferrors.IsKind(err, ferrors.KindIndexCreationFailed))

	c := synthetic.SimpleContainer(10)
	c.FailIndex = true
	path := filepath.Join(t.TempDir(), "broken.synth")
	require.NoError(t, synthetic.Write(path, c))
	err = s.Index(ctx, IndexRequest{File: path, UseCached: true})
	assert.True(t, ferrors.IsKind(err, ferrors.KindIndexCreationFailed))

	status, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	assert.NotEmpty(t, status.LastError)
	_, err = s.ListTracks()
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotIndexed))
}

func TestInvalidSettings(t *testing.T) {
	s, _, _ := newService(t)

	err := s.SetSeekHandling("sideways")
	assert.True(t, ferrors.IsKind(err, ferrors.KindInvalidArgument))
	err = s.SetFrameOutputFormat(types.OutputFormatRequest{PixelFormat: "nv12"})
	assert.True(t, ferrors.IsKind(err, ferrors.KindInvalidArgument))
	err = s.SetFrameOutputFormat(types.OutputFormatRequest{Resizer: "blurry"})
	assert.True(t, ferrors.IsKind(err, ferrors.KindInvalidArgument))
	err = s.SetFrameOutputFormat(types.OutputFormatRequest{Width: -2})
	assert.True(t, ferrors.IsKind(err, ferrors.KindInvalidArgument))

	// settings made before indexing carry over
	require.NoError(t, s.SetFrameOutputFormat(types.OutputFormatRequest{Width: 32, Resizer: "bilinearfast"}))
	status, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, 32, status.OutputFormat.Width)
	assert.Equal(t, types.ResizeBilinearFast, status.OutputFormat.Resizer)
}

func TestDisplayFailures(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, s.Index(ctx, IndexRequest{File: writeClip(t, "a.synth", 10), UseCached: true}))
	record, err := s.GetFrame(ctx, 0, 2)
	require.NoError(t, err)

	_, err = s.DisplayFrame(ctx, record, "")
	assert.True(t, ferrors.IsKind(err, ferrors.KindFrameDisplayFailed))
	_, err = s.DisplayFrame(ctx, record, "window-9")
	assert.True(t, ferrors.IsKind(err, ferrors.KindFrameDisplayFailed))
	assert.True(t, ferrors.IsRecoverable(err))
}

func TestSnapshot(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, s.Index(ctx, IndexRequest{File: writeClip(t, "a.synth", 10), UseCached: true}))

	data, err := s.Snapshot(ctx, 0, 3, 90)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WEBP", string(data[8:12]))
}

func TestWatchSourceMarksStale(t *testing.T) {
	b := synthetic.New()
	s := New(b, nil, Config{WatchSource: true}, hclog.NewNullLogger())
	defer s.Close()
	ctx := context.Background()
	file := writeClip(t, "a.synth", 10)
	require.NoError(t, s.Index(ctx, IndexRequest{File: file, UseCached: true}))

	status, err := s.Status()
	require.NoError(t, err)
	assert.False(t, status.Stale)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("# touched\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool {
		status, _ := s.Status()
		return status.Stale
	}, 2*time.Second, 20*time.Millisecond)
}
