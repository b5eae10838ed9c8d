// Package locator resolves frame requests by number, byte position or time
// into index metadata and, on request, decoded pictures.
package locator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/mantonx/framecache/internal/modules/framemodule/core/catalog"
	"github.com/mantonx/framecache/internal/modules/framemodule/core/source"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// Locator answers frame queries against one seek index
type Locator struct {
	catalog *catalog.Catalog
	sources *source.Cache
}

// New creates a locator over a catalog and its source cache
func New(cat *catalog.Catalog, sources *source.Cache) *Locator {
	return &Locator{catalog: cat, sources: sources}
}

// openSource makes sure the decode source of a validated track exists
func (l *Locator) openSource(ctx context.Context, op string, track int) (*source.Handle, error) {
	h, err := l.sources.Get(ctx, track)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindFrameRetrievalFailed, op)
	}
	return h, nil
}

func checkFrame(op string, t *types.TrackIndex, n int) error {
	if n < 0 || n >= len(t.Frames) {
		return ferrors.FrameOutOfRange(op, t.Descriptor.TrackNumber, n, len(t.Frames))
	}
	return nil
}

// GetFrameByNumber returns the metadata of frame n
func (l *Locator) GetFrameByNumber(ctx context.Context, track, n int) (types.FrameRecord, error) {
	const op = "get_frame"
	t, err := l.catalog.VideoTrack(op, track)
	if err != nil {
		return types.FrameRecord{}, err
	}
	if err := checkFrame(op, t, n); err != nil {
		return types.FrameRecord{}, err
	}
	if _, err := l.openSource(ctx, op, track); err != nil {
		return types.FrameRecord{}, err
	}
	return types.RecordFromIndex(t.Descriptor, n, t.Frames[n]), nil
}

// GetFrames returns the metadata of every frame of a track
func (l *Locator) GetFrames(ctx context.Context, track int) ([]types.FrameRecord, error) {
	const op = "get_frames"
	t, err := l.catalog.VideoTrack(op, track)
	if err != nil {
		return nil, err
	}
	records := make([]types.FrameRecord, len(t.Frames))
	if len(t.Frames) == 0 {
		return records, nil
	}
	if _, err := l.openSource(ctx, op, track); err != nil {
		return nil, err
	}
	for n, e := range t.Frames {
		records[n] = types.RecordFromIndex(t.Descriptor, n, e)
	}
	return records, nil
}

// GetFrameByPosition returns the frame whose packet starts at or most
// recently before the byte offset
func (l *Locator) GetFrameByPosition(ctx context.Context, track int, offset int64) (types.FrameRecord, error) {
	const op = "get_frame_at_position"
	t, err := l.catalog.VideoTrack(op, track)
	if err != nil {
		return types.FrameRecord{}, err
	}

	// negative positions are packets the container could not place
	best := -1
	for n, e := range t.Frames {
		if e.FilePos >= 0 && e.FilePos <= offset && (best < 0 || e.FilePos > t.Frames[best].FilePos) {
			best = n
		}
	}
	if best < 0 {
		return types.FrameRecord{}, ferrors.IndexAccessError(op,
			fmt.Errorf("%w: offset %d precedes the first frame", ferrors.ErrNoFrameAtPosition, offset)).
			WithTrack(track).WithPosition(offset)
	}
	if _, err := l.openSource(ctx, op, track); err != nil {
		return types.FrameRecord{}, err
	}
	return types.RecordFromIndex(t.Descriptor, best, t.Frames[best]), nil
}

// GetFrameByTime returns the last frame presented at or before seconds.
// Times before the first frame resolve to frame 0.
func (l *Locator) GetFrameByTime(ctx context.Context, track int, seconds float64) (types.FrameRecord, error) {
	const op = "get_frame_at_time"
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return types.FrameRecord{}, ferrors.IndexAccessError(op, ferrors.ErrInvalidTime).WithTrack(track).WithTime(seconds)
	}

	t, err := l.catalog.VideoTrack(op, track)
	if err != nil {
		return types.FrameRecord{}, err
	}
	if len(t.Frames) == 0 {
		return types.FrameRecord{}, ferrors.IndexAccessError(op, fmt.Errorf("track has no frames")).WithTrack(track).WithTime(seconds)
	}
	if _, err := l.openSource(ctx, op, track); err != nil {
		return types.FrameRecord{}, err
	}

	pts := t.Descriptor.SecondsToPTS(seconds)
	// frames are in presentation order so PTS is non-decreasing
	n := sort.Search(len(t.Frames), func(i int) bool { return t.Frames[i].PTS > pts }) - 1
	if n < 0 {
		n = 0
	}
	return types.RecordFromIndex(t.Descriptor, n, t.Frames[n]), nil
}

// Decode decodes frame n, runs fn with the picture while the source is
// locked, and returns the record enriched with the decode results
func (l *Locator) Decode(ctx context.Context, track, n int, fn func(*types.DecodedFrame) error) (types.FrameRecord, error) {
	const op = "decode_frame"
	t, err := l.catalog.VideoTrack(op, track)
	if err != nil {
		return types.FrameRecord{}, err
	}
	if err := checkFrame(op, t, n); err != nil {
		return types.FrameRecord{}, err
	}
	h, err := l.openSource(ctx, op, track)
	if err != nil {
		return types.FrameRecord{}, err
	}

	record := types.RecordFromIndex(t.Descriptor, n, t.Frames[n])
	var callbackErr error
	err = h.Decode(ctx, n, func(f *types.DecodedFrame) error {
		record = f.Enrich(record)
		if fn != nil {
			callbackErr = fn(f)
		}
		return nil
	})
	if err != nil {
		return types.FrameRecord{}, ferrors.RetrievalError(op, err).WithTrack(track).WithFrame(n)
	}
	return record, callbackErr
}

// DecodeCopy decodes frame n and returns a detached copy of the picture
func (l *Locator) DecodeCopy(ctx context.Context, track, n int) (types.FrameRecord, *types.DecodedFrame, error) {
	var picture *types.DecodedFrame
	record, err := l.Decode(ctx, track, n, func(f *types.DecodedFrame) error {
		picture = f.Copy()
		return nil
	})
	if err != nil {
		return types.FrameRecord{}, nil, err
	}
	return record, picture, nil
}

// SetOutputFormat applies a partial output format update
func (l *Locator) SetOutputFormat(req types.OutputFormatRequest) types.OutputFormat {
	return l.sources.SetOutputFormat(req)
}
