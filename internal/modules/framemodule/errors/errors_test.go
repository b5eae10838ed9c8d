package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestFrameError_Error(t *testing.T) {
	err := FrameOutOfRange("get_frame", 0, 1001, 1001)

	expected := "frame_out_of_range error in get_frame [track=0 frame=1001]: frame out of range: frame must be between 0 and 1000"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	plain := NotIndexed("list_tracks")
	if plain.Error() != "not_indexed error in list_tracks: no index available" {
		t.Errorf("Unexpected message %q", plain.Error())
	}
}

func TestFrameError_NegativeFrameIsReported(t *testing.T) {
	err := FrameOutOfRange("get_frame", 2, -1, 10)
	if err.Frame == nil || *err.Frame != -1 {
		t.Fatalf("Expected frame -1 to be recorded, got %v", err.Frame)
	}
	if !errors.Is(err, ErrFrameOutOfRange) {
		t.Error("Expected errors.Is to match ErrFrameOutOfRange")
	}
}

func TestFrameError_IsRecoverable(t *testing.T) {
	tests := []struct {
		name        string
		err         *FrameError
		recoverable bool
	}{
		{"display failure", DisplayError("display_frame", errors.New("busy")), true},
		{"retrieval failure", RetrievalError("decode", errors.New("eof")), true},
		{"index access", IndexAccessError("get_frame_at_position", ErrNoFrameAtPosition), true},
		{"fatal display", FatalDisplayError("display_frame", errors.New("gone")), false},
		{"not indexed", NotIndexed("get_frame"), false},
		{"frame range", FrameOutOfRange("get_frame", 0, 5, 5), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsRecoverable(); got != tt.recoverable {
				t.Errorf("IsRecoverable() = %v, want %v", got, tt.recoverable)
			}
			if got := IsRecoverable(fmt.Errorf("remote: %w", tt.err)); got != tt.recoverable {
				t.Errorf("IsRecoverable(wrapped) = %v, want %v", got, tt.recoverable)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, KindInternal, "op") != nil {
		t.Error("Expected nil for nil error")
	}

	base := errors.New("ffprobe exited with status 1")
	wrapped := Wrap(base, KindIndexCreationFailed, "index")
	if GetKind(wrapped) != KindIndexCreationFailed {
		t.Errorf("Expected kind %s, got %s", KindIndexCreationFailed, GetKind(wrapped))
	}
	if !errors.Is(wrapped, base) {
		t.Error("Expected cause to be chained")
	}

	existing := NotVideoTrack("get_frame", 1)
	if Wrap(existing, KindInternal, "other") != error(existing) {
		t.Error("Expected existing FrameError to be preserved")
	}

	if GetKind(base) != KindInternal || GetOperation(base) != "unknown" {
		t.Error("Expected defaults for a plain error")
	}
	if !IsKind(existing, KindNotVideoTrack) {
		t.Error("Expected IsKind to match")
	}
}
