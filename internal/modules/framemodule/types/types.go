// Package types defines the data model shared by the frame module: tracks,
// frame records, decoded frames, output formats and progress updates.
package types

import (
	"fmt"
	"strings"
)

// TrackType classifies an elementary stream
type TrackType string

const (
	TrackTypeUnknown    TrackType = "unknown"
	TrackTypeVideo      TrackType = "video"
	TrackTypeAudio      TrackType = "audio"
	TrackTypeData       TrackType = "data"
	TrackTypeSubtitle   TrackType = "subtitle"
	TrackTypeAttachment TrackType = "attachment"
)

// ParseTrackType maps a demuxer codec type to a TrackType
func ParseTrackType(s string) TrackType {
	switch strings.ToLower(s) {
	case "video":
		return TrackTypeVideo
	case "audio":
		return TrackTypeAudio
	case "data":
		return TrackTypeData
	case "subtitle":
		return TrackTypeSubtitle
	case "attachment":
		return TrackTypeAttachment
	default:
		return TrackTypeUnknown
	}
}

// Resolution is a frame size in pixels
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// IsZero reports whether no size is set
func (r Resolution) IsZero() bool {
	return r.Width == 0 && r.Height == 0
}

// TrackDescriptor is an immutable view of one track of the indexed container.
// TimeBaseNum/TimeBaseDen convert timestamps to milliseconds:
// ms = pts * TimeBaseNum / TimeBaseDen.
type TrackDescriptor struct {
	TrackNumber int       `json:"track_number"`
	Type        TrackType `json:"type"`
	FrameCount  int       `json:"frame_count"`
	TimeBaseNum int64     `json:"time_base_num"`
	TimeBaseDen int64     `json:"time_base_den"`

	Codec       string      `json:"codec,omitempty"`
	Encoded     Resolution  `json:"encoded,omitempty"`
	PixelFormat PixelFormat `json:"pixel_format,omitempty"`
}

// IsVideo reports whether the track can be decoded into pictures
func (t TrackDescriptor) IsVideo() bool {
	return t.Type == TrackTypeVideo
}

// PTSToMillis converts a track timestamp to milliseconds
func (t TrackDescriptor) PTSToMillis(pts int64) int64 {
	if t.TimeBaseDen == 0 {
		return 0
	}
	return pts * t.TimeBaseNum / t.TimeBaseDen
}

// SecondsToPTS converts seconds to the track's timestamp domain using
// pts = seconds * 1000 * den / num.
func (t TrackDescriptor) SecondsToPTS(seconds float64) int64 {
	if t.TimeBaseNum == 0 {
		return 0
	}
	return int64((seconds * 1000 * float64(t.TimeBaseDen)) / float64(t.TimeBaseNum))
}

// IndexEntry is the per-frame metadata produced by indexing
type IndexEntry struct {
	PTS           int64 `json:"pts"`
	FilePos       int64 `json:"file_pos"`
	KeyFrame      bool  `json:"key_frame"`
	RepeatPicture int   `json:"repeat_picture"`
}

// TrackIndex holds the frame table of one track in presentation order
type TrackIndex struct {
	Descriptor TrackDescriptor `json:"descriptor"`
	Frames     []IndexEntry    `json:"frames"`
}

// FileIdentity fingerprints a source file
type FileIdentity struct {
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// Matches reports whether two identities describe the same content
func (i FileIdentity) Matches(other FileIdentity) bool {
	return i.Size == other.Size && i.Digest != "" && i.Digest == other.Digest
}

// SeekIndex maps one source file to its per-track frame tables
type SeekIndex struct {
	File      string       `json:"file"`
	Identity  FileIdentity `json:"identity"`
	CodecHint string       `json:"codec_hint,omitempty"`
	Tracks    []TrackIndex `json:"tracks"`
}

// TrackCount returns the number of tracks in the index
func (s *SeekIndex) TrackCount() int {
	return len(s.Tracks)
}

// FrameRecord is the wire view of a frame: index metadata plus the optional
// decode results (FrameType, Resolution) filled in after a decode.
type FrameRecord struct {
	TrackNumber   int   `json:"track_number"`
	FrameNumber   int   `json:"frame_number"`
	PTS           int64 `json:"pts"`
	TimestampMs   int64 `json:"timestamp_ms"`
	FilePos       int64 `json:"file_pos"`
	KeyFrame      bool  `json:"key_frame"`
	RepeatPicture int   `json:"repeat_picture"`

	FrameType  string     `json:"frame_type,omitempty"`
	Resolution Resolution `json:"resolution,omitempty"`
}

// Enriched reports whether the record carries decode results
func (f FrameRecord) Enriched() bool {
	return f.FrameType != "" || !f.Resolution.IsZero()
}

// RecordFromIndex maps an index entry to its wire record
func RecordFromIndex(track TrackDescriptor, number int, entry IndexEntry) FrameRecord {
	return FrameRecord{
		TrackNumber:   track.TrackNumber,
		FrameNumber:   number,
		PTS:           entry.PTS,
		TimestampMs:   track.PTSToMillis(entry.PTS),
		FilePos:       entry.FilePos,
		KeyFrame:      entry.KeyFrame,
		RepeatPicture: entry.RepeatPicture,
	}
}

// Progress is a {current, total} indexing progress update
type Progress struct {
	OperationID string `json:"operation_id"`
	Current     int64  `json:"current"`
	Total       int64  `json:"total"`
}

// Done reports whether the update marks completion
func (p Progress) Done() bool {
	return p.Total > 0 && p.Current >= p.Total
}
