package remote

import (
	"errors"
	"fmt"
	"strings"

	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/service"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// WireError carries a typed failure across the RPC boundary. net/rpc only
// transports error strings, so every reply embeds one of these instead.
// gob drops zero values, so context fields travel with explicit presence
// flags.
type WireError struct {
	Kind        ferrors.Kind
	Op          string
	Message     string
	Details     map[string]string
	HasTrack    bool
	Track       int
	HasFrame    bool
	Frame       int
	HasPosition bool
	Position    int64
	HasTime     bool
	Time        float64
}

// toWire flattens err. Untyped errors become KindInternal.
func toWire(err error) *WireError {
	if err == nil {
		return nil
	}
	var fErr *ferrors.FrameError
	if !errors.As(err, &fErr) {
		return &WireError{Kind: ferrors.KindInternal, Op: "unknown", Message: err.Error()}
	}

	w := &WireError{Kind: fErr.Kind, Op: fErr.Op}
	if fErr.Track != nil {
		w.HasTrack, w.Track = true, *fErr.Track
	}
	if fErr.Frame != nil {
		w.HasFrame, w.Frame = true, *fErr.Frame
	}
	if fErr.Position != nil {
		w.HasPosition, w.Position = true, *fErr.Position
	}
	if fErr.Time != nil {
		w.HasTime, w.Time = true, *fErr.Time
	}
	if fErr.Err != nil {
		w.Message = fErr.Err.Error()
	}
	if len(fErr.Details) > 0 {
		w.Details = make(map[string]string, len(fErr.Details))
		for k, v := range fErr.Details {
			w.Details[k] = fmt.Sprint(v)
		}
	}
	return w
}

// Err rebuilds the typed error on the calling side
func (w *WireError) Err() error {
	if w == nil {
		return nil
	}
	e := ferrors.New(w.Kind, w.Op, causeOf(w.Message))
	if w.HasTrack {
		e.WithTrack(w.Track)
	}
	if w.HasFrame {
		e.WithFrame(w.Frame)
	}
	if w.HasPosition {
		e.WithPosition(w.Position)
	}
	if w.HasTime {
		e.WithTime(w.Time)
	}
	for k, v := range w.Details {
		e.WithDetail(k, v)
	}
	return e
}

var sentinels = []error{
	ferrors.ErrNotIndexed,
	ferrors.ErrTrackOutOfRange,
	ferrors.ErrNotVideoTrack,
	ferrors.ErrFrameOutOfRange,
	ferrors.ErrNoFrameAtPosition,
	ferrors.ErrInvalidTime,
	ferrors.ErrFileNotFound,
	ferrors.ErrSurfaceRequired,
}

// causeOf restores a sentinel when the message is one, or starts with one,
// so errors.Is keeps working on the host side.
func causeOf(msg string) error {
	for _, s := range sentinels {
		if msg == s.Error() {
			return s
		}
		if rest, ok := strings.CutPrefix(msg, s.Error()+": "); ok {
			return fmt.Errorf("%w: %s", s, rest)
		}
	}
	return errors.New(msg)
}

// ErrorReply is the reply of calls that return nothing but an error
type ErrorReply struct {
	Err *WireError
}

// FrameArgs addresses a frame by number
type FrameArgs struct {
	Track  int
	Number int
}

// TrackArgs addresses a track
type TrackArgs struct {
	Track int
}

// PositionArgs addresses a frame by byte offset
type PositionArgs struct {
	Track  int
	Offset int64
}

// TimeArgs addresses a frame by time in seconds
type TimeArgs struct {
	Track   int
	Seconds float64
}

// DisplayArgs asks for a frame to be shown on a surface
type DisplayArgs struct {
	Record  types.FrameRecord
	Surface string
}

// SnapshotArgs asks for a WebP still of a frame
type SnapshotArgs struct {
	Track   int
	Number  int
	Quality int
}

// FrameReply carries one frame record
type FrameReply struct {
	Record types.FrameRecord
	Err    *WireError
}

// FramesReply carries the records of a track
type FramesReply struct {
	Records []types.FrameRecord
	Err     *WireError
}

// TracksReply carries the track list
type TracksReply struct {
	Tracks []types.TrackDescriptor
	Err    *WireError
}

// SnapshotReply carries an encoded still
type SnapshotReply struct {
	Data []byte
	Err  *WireError
}

// StatusReply carries the service status
type StatusReply struct {
	Status *service.Status
	Err    *WireError
}
