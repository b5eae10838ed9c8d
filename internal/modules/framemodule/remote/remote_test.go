package remote

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/mantonx/framecache/internal/modules/framemodule/backend/synthetic"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/service"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispense(t *testing.T) service.FrameService {
	t.Helper()
	svc := service.New(synthetic.New(), nil, service.Config{ProgressInterval: time.Millisecond}, hclog.NewNullLogger())
	t.Cleanup(func() { svc.Close() })
	return dispenseImpl(t, svc)
}

func dispenseImpl(t *testing.T, impl service.FrameService) service.FrameService {
	t.Helper()
	client, _ := plugin.TestPluginRPCConn(t, map[string]plugin.Plugin{
		PluginName: &FramePlugin{Impl: impl},
	}, nil)
	t.Cleanup(func() { client.Close() })

	raw, err := client.Dispense(PluginName)
	require.NoError(t, err)
	frames, ok := raw.(service.FrameService)
	require.True(t, ok)
	return frames
}

func writeClip(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.synth")
	require.NoError(t, synthetic.Write(path, synthetic.SimpleContainer(frames)))
	return path
}

func TestRemoteRoundTrip(t *testing.T) {
	frames := dispense(t)
	ctx := context.Background()

	require.NoError(t, frames.Index(ctx, service.IndexRequest{File: writeClip(t, 60), UseCached: true}))

	tracks, err := frames.ListTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, types.TrackTypeVideo, tracks[0].Type)
	assert.Equal(t, 60, tracks[0].FrameCount)

	rec, err := frames.GetFrame(ctx, 0, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, rec.FrameNumber)
	assert.Equal(t, int64(1200), rec.TimestampMs)

	byTime, err := frames.GetFrameAtTime(ctx, 0, 1.2)
	require.NoError(t, err)
	assert.Equal(t, rec.FrameNumber, byTime.FrameNumber)

	byPos, err := frames.GetFrameAtPosition(ctx, 0, rec.FilePos+1)
	require.NoError(t, err)
	assert.Equal(t, rec.FrameNumber, byPos.FrameNumber)

	all, err := frames.GetFrames(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 60)

	data, err := frames.Snapshot(ctx, 0, 5, 90)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))

	status, err := frames.Status()
	require.NoError(t, err)
	assert.Equal(t, service.StateReady, status.State)
	assert.Equal(t, 2, status.Tracks)
}

func TestRemoteErrorsKeepTheirKind(t *testing.T) {
	frames := dispense(t)
	ctx := context.Background()

	_, err := frames.GetFrame(ctx, 0, 0)
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotIndexed))
	assert.True(t, errors.Is(err, ferrors.ErrNotIndexed))

	require.NoError(t, frames.Index(ctx, service.IndexRequest{File: writeClip(t, 10)}))

	_, err = frames.GetFrame(ctx, 0, 10)
	var fErr *ferrors.FrameError
	require.True(t, errors.As(err, &fErr))
	assert.Equal(t, ferrors.KindFrameOutOfRange, fErr.Kind)
	require.NotNil(t, fErr.Track)
	assert.Equal(t, 0, *fErr.Track, "zero-valued context survives the wire")
	require.NotNil(t, fErr.Frame)
	assert.Equal(t, 10, *fErr.Frame)
	assert.True(t, errors.Is(err, ferrors.ErrFrameOutOfRange))

	_, err = frames.GetFrame(ctx, 1, 0)
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotVideoTrack))

	_, err = frames.GetFrameAtTime(ctx, 0, -1)
	assert.True(t, ferrors.IsKind(err, ferrors.KindIndexAccessFailed))
	assert.True(t, errors.Is(err, ferrors.ErrInvalidTime))

	_, err = frames.DisplayFrame(ctx, types.FrameRecord{}, "")
	assert.True(t, ferrors.IsKind(err, ferrors.KindFrameDisplayFailed))

	err = frames.SetSeekHandling(types.SeekMode("backwards"))
	assert.True(t, ferrors.IsKind(err, ferrors.KindInvalidArgument))
}

func TestRemoteProgressCallback(t *testing.T) {
	frames := dispense(t)

	var mu sync.Mutex
	var updates []types.Progress
	cancel := frames.OnProgress(func(p types.Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	})
	defer cancel()

	require.NoError(t, frames.Index(context.Background(), service.IndexRequest{File: writeClip(t, 200)}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) > 0 && updates[len(updates)-1].Done()
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Current, updates[i-1].Current)
	}
	assert.NotEmpty(t, updates[0].OperationID)
}

// observerCounter tracks how many progress observers are registered
type observerCounter struct {
	service.FrameService
	active atomic.Int32
}

func (o *observerCounter) OnProgress(fn func(types.Progress)) func() {
	o.active.Add(1)
	cancel := o.FrameService.OnProgress(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			o.active.Add(-1)
			cancel()
		})
	}
}

func TestRemoteProgressUnsubscribesAfterLastObserver(t *testing.T) {
	svc := service.New(synthetic.New(), nil, service.Config{ProgressInterval: time.Millisecond}, hclog.NewNullLogger())
	t.Cleanup(func() { svc.Close() })
	counter := &observerCounter{FrameService: svc}
	frames := dispenseImpl(t, counter)

	first := frames.OnProgress(func(types.Progress) {})
	second := frames.OnProgress(func(types.Progress) {})
	assert.Equal(t, int32(1), counter.active.Load())

	first()
	assert.Equal(t, int32(1), counter.active.Load())
	second()
	assert.Equal(t, int32(0), counter.active.Load())
	// cancelling twice is harmless
	second()
	assert.Equal(t, int32(0), counter.active.Load())

	// a new observer subscribes again
	var mu sync.Mutex
	var seen int
	third := frames.OnProgress(func(types.Progress) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	defer third()
	assert.Equal(t, int32(1), counter.active.Load())

	require.NoError(t, frames.Index(context.Background(), service.IndexRequest{File: writeClip(t, 200)}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteSettings(t *testing.T) {
	frames := dispense(t)
	ctx := context.Background()
	require.NoError(t, frames.Index(ctx, service.IndexRequest{File: writeClip(t, 10)}))

	require.NoError(t, frames.SetSeekHandling(types.SeekUnsafe))
	require.NoError(t, frames.SetFrameOutputFormat(types.OutputFormatRequest{Width: 32, Height: 24, PixelFormat: types.PixelFormatYV12}))

	status, err := frames.Status()
	require.NoError(t, err)
	assert.Equal(t, types.SeekUnsafe, status.SeekMode)
	assert.Equal(t, 32, status.OutputFormat.Width)
	assert.Equal(t, types.PixelFormatYV12, status.OutputFormat.PixelFormat)

	require.NoError(t, frames.Close())
	_, err = frames.GetFrame(ctx, 0, 0)
	assert.True(t, ferrors.IsKind(err, ferrors.KindNotIndexed))
}

func TestWireErrorForUntypedErrors(t *testing.T) {
	w := toWire(errors.New("boom"))
	assert.Equal(t, ferrors.KindInternal, w.Kind)
	assert.Nil(t, toWire(nil))
	assert.NoError(t, (*WireError)(nil).Err())

	err := w.Err()
	assert.Contains(t, err.Error(), "boom")
}
