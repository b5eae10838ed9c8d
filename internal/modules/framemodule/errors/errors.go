// Package errors provides structured error handling for the frame module.
// Every failure that leaves the module is a *FrameError carrying one Kind from
// a fixed taxonomy, the operation that failed, the offending track/frame/
// position/time and the chained cause.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a frame module failure
type Kind string

const (
	// KindNotIndexed indicates an operation was attempted before a successful index
	KindNotIndexed Kind = "not_indexed"
	// KindTrackOutOfRange indicates a track number outside the index
	KindTrackOutOfRange Kind = "track_out_of_range"
	// KindNotVideoTrack indicates video access to a non-video track
	KindNotVideoTrack Kind = "not_video_track"
	// KindFrameOutOfRange indicates a frame number outside the track
	KindFrameOutOfRange Kind = "frame_out_of_range"
	// KindIndexCreationFailed indicates building or loading the index failed
	KindIndexCreationFailed Kind = "index_creation_failed"
	// KindIndexAccessFailed indicates a metadata lookup failed
	KindIndexAccessFailed Kind = "index_access_failed"
	// KindFrameRetrievalFailed indicates decode source creation or decoding failed
	KindFrameRetrievalFailed Kind = "frame_retrieval_failed"
	// KindFrameDisplayFailed indicates a recoverable display failure
	KindFrameDisplayFailed Kind = "frame_display_failed"
	// KindFatalDisplayFailed indicates the renderer was torn down
	KindFatalDisplayFailed Kind = "fatal_display_failed"
	// KindInvalidArgument indicates bad configuration input
	KindInvalidArgument Kind = "invalid_argument"
	// KindInternal indicates an unclassified failure
	KindInternal Kind = "internal"
)

// Sentinel errors for common scenarios
var (
	// ErrNotIndexed indicates no index is loaded
	ErrNotIndexed = errors.New("no index available")

	// ErrTrackOutOfRange indicates an invalid track number
	ErrTrackOutOfRange = errors.New("track out of range")

	// ErrNotVideoTrack indicates the track carries no pictures
	ErrNotVideoTrack = errors.New("specified track is not a video track")

	// ErrFrameOutOfRange indicates an invalid frame number
	ErrFrameOutOfRange = errors.New("frame out of range")

	// ErrNoFrameAtPosition indicates no frame starts at or before a byte offset
	ErrNoFrameAtPosition = errors.New("no frame at position")

	// ErrInvalidTime indicates a negative or non-finite timestamp
	ErrInvalidTime = errors.New("invalid time")

	// ErrFileNotFound indicates the source file does not exist
	ErrFileNotFound = errors.New("file not found")

	// ErrSurfaceRequired indicates a display call without a target surface
	ErrSurfaceRequired = errors.New("surface handle required")
)

// FrameError provides structured error information with context
type FrameError struct {
	Kind     Kind     // Error classification
	Op       string   // Operation that failed (e.g., "get_frame", "index")
	Track    *int     // Related track number if applicable
	Frame    *int     // Related frame number if applicable
	Position *int64   // Related byte offset if applicable
	Time     *float64 // Related timestamp in seconds if applicable
	Err      error    // Underlying error
	Details  map[string]interface{}
}

// Error implements the error interface
func (e *FrameError) Error() string {
	var context []string

	if e.Track != nil {
		context = append(context, fmt.Sprintf("track=%d", *e.Track))
	}
	if e.Frame != nil {
		context = append(context, fmt.Sprintf("frame=%d", *e.Frame))
	}
	if e.Position != nil {
		context = append(context, fmt.Sprintf("position=%d", *e.Position))
	}
	if e.Time != nil {
		context = append(context, fmt.Sprintf("time=%g", *e.Time))
	}

	if len(context) > 0 {
		return fmt.Sprintf("%s error in %s [%s]: %v", e.Kind, e.Op, strings.Join(context, " "), e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *FrameError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *FrameError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new FrameError
func New(kind Kind, op string, err error) *FrameError {
	return &FrameError{
		Kind:    kind,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithTrack adds track context to the error
func (e *FrameError) WithTrack(track int) *FrameError {
	e.Track = &track
	return e
}

// WithFrame adds frame context to the error
func (e *FrameError) WithFrame(frame int) *FrameError {
	e.Frame = &frame
	return e
}

// WithPosition adds byte offset context to the error
func (e *FrameError) WithPosition(pos int64) *FrameError {
	e.Position = &pos
	return e
}

// WithTime adds timestamp context to the error
func (e *FrameError) WithTime(seconds float64) *FrameError {
	e.Time = &seconds
	return e
}

// WithDetail adds a key-value detail to the error
func (e *FrameError) WithDetail(key string, value interface{}) *FrameError {
	e.Details[key] = value
	return e
}

// IsRecoverable returns true if a caller iterating frames can skip this
// failure and continue
func (e *FrameError) IsRecoverable() bool {
	switch e.Kind {
	case KindFrameDisplayFailed, KindFrameRetrievalFailed, KindIndexAccessFailed:
		return true
	}
	return false
}

// IsFatal returns true if the error tore down module state
func (e *FrameError) IsFatal() bool {
	return e.Kind == KindFatalDisplayFailed
}

// Error creation helpers

// NotIndexed creates a not-indexed error
func NotIndexed(op string) *FrameError {
	return New(KindNotIndexed, op, ErrNotIndexed)
}

// TrackOutOfRange creates a track range error
func TrackOutOfRange(op string, track, trackCount int) *FrameError {
	return New(KindTrackOutOfRange, op,
		fmt.Errorf("%w: track must be between 0 and %d", ErrTrackOutOfRange, trackCount-1)).WithTrack(track)
}

// NotVideoTrack creates a non-video track error
func NotVideoTrack(op string, track int) *FrameError {
	return New(KindNotVideoTrack, op, ErrNotVideoTrack).WithTrack(track)
}

// FrameOutOfRange creates a frame range error
func FrameOutOfRange(op string, track, frame, frameCount int) *FrameError {
	return New(KindFrameOutOfRange, op,
		fmt.Errorf("%w: frame must be between 0 and %d", ErrFrameOutOfRange, frameCount-1)).WithTrack(track).WithFrame(frame)
}

// IndexCreationError creates an index build/load error
func IndexCreationError(op string, err error) *FrameError {
	return New(KindIndexCreationFailed, op, err)
}

// IndexAccessError creates a metadata lookup error
func IndexAccessError(op string, err error) *FrameError {
	return New(KindIndexAccessFailed, op, err)
}

// RetrievalError creates a decode failure error
func RetrievalError(op string, err error) *FrameError {
	return New(KindFrameRetrievalFailed, op, err)
}

// DisplayError creates a recoverable display error
func DisplayError(op string, err error) *FrameError {
	return New(KindFrameDisplayFailed, op, err)
}

// FatalDisplayError creates a fatal display error
func FatalDisplayError(op string, err error) *FrameError {
	return New(KindFatalDisplayFailed, op, err)
}

// InvalidArgument creates an input validation error
func InvalidArgument(op string, err error) *FrameError {
	return New(KindInvalidArgument, op, err)
}

// Wrap wraps an error with operation context if it's not already a FrameError
func Wrap(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}

	// If it's already a FrameError, preserve it
	var fErr *FrameError
	if errors.As(err, &fErr) {
		return err
	}

	return New(kind, op, err)
}

// GetKind extracts the error kind from an error
func GetKind(err error) Kind {
	var fErr *FrameError
	if errors.As(err, &fErr) {
		return fErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a FrameError of the given kind
func IsKind(err error, kind Kind) bool {
	var fErr *FrameError
	return errors.As(err, &fErr) && fErr.Kind == kind
}

// GetOperation extracts the operation from an error
func GetOperation(err error) string {
	var fErr *FrameError
	if errors.As(err, &fErr) {
		return fErr.Op
	}
	return "unknown"
}

// IsRecoverable reports whether err is a recoverable FrameError
func IsRecoverable(err error) bool {
	var fErr *FrameError
	return errors.As(err, &fErr) && fErr.IsRecoverable()
}
