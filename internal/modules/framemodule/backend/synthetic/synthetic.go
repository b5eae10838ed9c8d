// Package synthetic implements a decode backend over YAML container
// descriptions. It produces deterministic index tables and pictures without
// any native decoder and is used by tests and local development.
//
// A description looks like:
//
//	header_size: 512
//	tracks:
//	  - type: video
//	    frames: 1001
//	    time_base: [1, 25]
//	    width: 320
//	    height: 240
//	    gop: 12
//	  - type: audio
//	    frames: 400
//	    time_base: [1, 48000]
//	    frame_duration: 1024
package synthetic

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
	"gopkg.in/yaml.v3"
)

// Name is the registry name of this backend
const Name = "synthetic"

func init() {
	backend.Register(Name, func(map[string]string) (backend.Backend, error) {
		return New(), nil
	})
}

// TrackSpec describes one track of a synthetic container
type TrackSpec struct {
	Type          string  `yaml:"type"`
	Codec         string  `yaml:"codec"`
	Frames        int     `yaml:"frames"`
	TimeBase      []int64 `yaml:"time_base,flow"`
	StartPTS      int64   `yaml:"start_pts"`
	FrameDuration int64   `yaml:"frame_duration"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	PixelFormat   string  `yaml:"pixel_format"`
	GOP           int     `yaml:"gop"`
	PacketSize    int64   `yaml:"packet_size"`
	RepeatEvery   int     `yaml:"repeat_every"`
	FailDecode    []int   `yaml:"fail_decode"`
}

// Container describes a synthetic media file
type Container struct {
	HeaderSize int64         `yaml:"header_size"`
	Tracks     []TrackSpec   `yaml:"tracks"`
	FailIndex  bool          `yaml:"fail_index"`
	FailOpen   bool          `yaml:"fail_open"`
	OpenDelay  time.Duration `yaml:"open_delay,omitempty"`
}

// Load parses a container description
func Load(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Container
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse synthetic container: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// Write stores a container description at path
func Write(path string, c *Container) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Container) applyDefaults() {
	for i := range c.Tracks {
		t := &c.Tracks[i]
		if t.Type == "" {
			t.Type = "video"
		}
		if len(t.TimeBase) != 2 || t.TimeBase[0] <= 0 || t.TimeBase[1] <= 0 {
			t.TimeBase = []int64{1, 25}
		}
		if t.FrameDuration <= 0 {
			t.FrameDuration = 1
		}
		if t.PacketSize <= 0 {
			t.PacketSize = 1024
		}
		if t.GOP <= 0 {
			t.GOP = 12
		}
		if t.Codec == "" {
			t.Codec = Name
		}
		if types.ParseTrackType(t.Type) == types.TrackTypeVideo {
			if t.Width <= 0 {
				t.Width = 64
			}
			if t.Height <= 0 {
				t.Height = 48
			}
			if t.PixelFormat == "" {
				t.PixelFormat = string(types.PixelFormatIYUV)
			}
		}
	}
}

// Backend decodes synthetic containers
type Backend struct {
	opened  int64
	decoded int64
}

// New creates a synthetic backend
func New() *Backend {
	return &Backend{}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return Name
}

// Opened returns how many decode sources were opened
func (b *Backend) Opened() int64 {
	return atomic.LoadInt64(&b.opened)
}

// Decoded returns how many frames were decoded
func (b *Backend) Decoded() int64 {
	return atomic.LoadInt64(&b.decoded)
}

// Index builds the frame tables described by the container
func (b *Backend) Index(ctx context.Context, path string, opts backend.IndexOptions) (*types.SeekIndex, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if c.FailIndex {
		return nil, fmt.Errorf("synthetic: container %s could not be demuxed", path)
	}

	idx := &types.SeekIndex{File: path, CodecHint: opts.CodecHint}
	total := c.HeaderSize
	maxFrames := 0
	for i, t := range c.Tracks {
		total += int64(t.Frames) * t.PacketSize
		if t.Frames > maxFrames {
			maxFrames = t.Frames
		}
		pf, _ := types.ParsePixelFormat(t.PixelFormat)
		idx.Tracks = append(idx.Tracks, types.TrackIndex{
			Descriptor: types.TrackDescriptor{
				TrackNumber: i,
				Type:        types.ParseTrackType(t.Type),
				FrameCount:  t.Frames,
				TimeBaseNum: 1000 * t.TimeBase[0],
				TimeBaseDen: t.TimeBase[1],
				Codec:       t.Codec,
				Encoded:     types.Resolution{Width: t.Width, Height: t.Height},
				PixelFormat: pf,
			},
			Frames: make([]types.IndexEntry, 0, t.Frames),
		})
	}

	// packets are interleaved across tracks in frame order
	pos := c.HeaderSize
	for n := 0; n < maxFrames; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, t := range c.Tracks {
			if n >= t.Frames {
				continue
			}
			repeat := 0
			if t.RepeatEvery > 0 && n%t.RepeatEvery == t.RepeatEvery-1 {
				repeat = 1
			}
			idx.Tracks[i].Frames = append(idx.Tracks[i].Frames, types.IndexEntry{
				PTS:           t.StartPTS + int64(n)*t.FrameDuration,
				FilePos:       pos,
				KeyFrame:      n%t.GOP == 0,
				RepeatPicture: repeat,
			})
			pos += t.PacketSize
			if opts.Progress != nil {
				opts.Progress(pos, total)
			}
		}
	}

	return idx, nil
}

// OpenVideoSource opens a decoder for a video track
func (b *Backend) OpenVideoSource(ctx context.Context, idx *types.SeekIndex, track int, opts backend.SourceOptions) (backend.VideoDecoder, error) {
	c, err := Load(idx.File)
	if err != nil {
		return nil, err
	}
	if c.FailOpen {
		return nil, fmt.Errorf("synthetic: no decoder available for %s", idx.File)
	}
	if track < 0 || track >= len(c.Tracks) {
		return nil, fmt.Errorf("synthetic: track %d does not exist", track)
	}
	spec := c.Tracks[track]
	if types.ParseTrackType(spec.Type) != types.TrackTypeVideo {
		return nil, fmt.Errorf("synthetic: track %d is not a video track", track)
	}
	if c.OpenDelay > 0 {
		select {
		case <-time.After(c.OpenDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	atomic.AddInt64(&b.opened, 1)
	pf, _ := types.ParsePixelFormat(spec.PixelFormat)
	d := &decoder{
		backend:  b,
		spec:     spec,
		mode:     opts.SeekMode,
		cursor:   -1,
		failures: make(map[int]bool, len(spec.FailDecode)),
	}
	for _, n := range spec.FailDecode {
		d.failures[n] = true
	}
	if err := d.SetOutputFormat(types.OutputFormat{}.Resolve(types.Resolution{Width: spec.Width, Height: spec.Height}, pf)); err != nil {
		return nil, err
	}
	return d, nil
}

type decoder struct {
	backend  *Backend
	spec     TrackSpec
	mode     types.SeekMode
	format   types.OutputFormat
	buf      []byte
	frame    types.DecodedFrame
	cursor   int
	failures map[int]bool
	closed   bool
}

func (d *decoder) SetOutputFormat(format types.OutputFormat) error {
	layout := types.PlaneLayout(format.PixelFormat, format.Width, format.Height)
	if layout == nil || format.Width <= 0 || format.Height <= 0 {
		return fmt.Errorf("synthetic: unsupported output format %s %dx%d", format.PixelFormat, format.Width, format.Height)
	}

	d.format = format
	d.buf = make([]byte, types.FrameSize(format.PixelFormat, format.Width, format.Height))
	d.frame = types.DecodedFrame{
		Resolution:  types.Resolution{Width: format.Width, Height: format.Height},
		PixelFormat: format.PixelFormat,
	}
	offset := 0
	for i, p := range layout {
		d.frame.Planes[i] = d.buf[offset : offset+p.Size()]
		d.frame.Linesize[i] = p.Linesize
		offset += p.Size()
	}
	return nil
}

func (d *decoder) DecodeFrame(ctx context.Context, n int) (*types.DecodedFrame, error) {
	if d.closed {
		return nil, fmt.Errorf("synthetic: decoder closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 0 || n >= d.spec.Frames {
		return nil, fmt.Errorf("synthetic: frame %d does not exist", n)
	}
	if d.mode == types.SeekLinearNoRewind && n < d.cursor {
		return nil, fmt.Errorf("synthetic: cannot rewind from frame %d to %d in %s mode", d.cursor, n, d.mode)
	}
	if d.failures[n] {
		return nil, fmt.Errorf("synthetic: corrupt packet at frame %d", n)
	}

	d.cursor = n
	for i := 0; i < types.MaxPlanes; i++ {
		fill := byte(n + i*64)
		for j := range d.frame.Planes[i] {
			d.frame.Planes[i][j] = fill
		}
	}
	if n%d.spec.GOP == 0 {
		d.frame.FrameType = "I"
	} else {
		d.frame.FrameType = "P"
	}
	atomic.AddInt64(&d.backend.decoded, 1)
	return &d.frame, nil
}

func (d *decoder) Close() error {
	d.closed = true
	d.buf = nil
	return nil
}

// SimpleContainer describes a 25fps video track of the given length followed
// by an audio track
func SimpleContainer(frames int) *Container {
	c := &Container{
		HeaderSize: 512,
		Tracks: []TrackSpec{
			{Type: "video", Frames: frames, TimeBase: []int64{1, 25}, Width: 64, Height: 48, GOP: 12, PacketSize: 2048},
			{Type: "audio", Codec: "pcm", Frames: frames, TimeBase: []int64{1, 48000}, FrameDuration: 1920, PacketSize: 256},
		},
	}
	c.applyDefaults()
	return c
}
