package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

var frameTypePattern = regexp.MustCompile(`type:([A-Z?])`)

// OpenVideoSource prepares a decoder for one video track
func (b *Backend) OpenVideoSource(ctx context.Context, idx *types.SeekIndex, track int, opts backend.SourceOptions) (backend.VideoDecoder, error) {
	if track < 0 || track >= len(idx.Tracks) {
		return nil, fmt.Errorf("track %d does not exist", track)
	}
	t := idx.Tracks[track]
	if !t.Descriptor.IsVideo() {
		return nil, fmt.Errorf("track %d is not a video track", track)
	}
	if t.Descriptor.Encoded.IsZero() {
		return nil, fmt.Errorf("track %d has no known picture size", track)
	}
	if _, err := os.Stat(idx.File); err != nil {
		return nil, err
	}

	mode := opts.SeekMode
	if mode == "" {
		mode = types.DefaultSeekMode
	}
	d := &decoder{
		backend:   b,
		input:     idx.File,
		codecHint: opts.CodecHint,
		track:     t,
		mode:      mode,
		cursor:    -1,
	}
	format := types.OutputFormat{}.Resolve(t.Descriptor.Encoded, t.Descriptor.PixelFormat)
	if err := d.SetOutputFormat(format); err != nil {
		return nil, err
	}
	return d, nil
}

type decoder struct {
	backend   *Backend
	input     string
	codecHint string
	track     types.TrackIndex
	mode      types.SeekMode

	format types.OutputFormat
	buf    []byte
	frame  types.DecodedFrame
	cursor int
	closed bool
}

func (d *decoder) SetOutputFormat(format types.OutputFormat) error {
	layout := types.PlaneLayout(format.PixelFormat, format.Width, format.Height)
	if layout == nil || format.Width <= 0 || format.Height <= 0 {
		return fmt.Errorf("unsupported output format %s %dx%d", format.PixelFormat, format.Width, format.Height)
	}

	d.format = format
	d.buf = make([]byte, types.FrameSize(format.PixelFormat, format.Width, format.Height))
	d.frame = types.DecodedFrame{
		Resolution:  types.Resolution{Width: format.Width, Height: format.Height},
		PixelFormat: format.PixelFormat,
	}

	// ffmpeg writes planar yuv as Y, U, V
	offset := 0
	for i, p := range layout {
		d.frame.Planes[i] = d.buf[offset : offset+p.Size()]
		d.frame.Linesize[i] = p.Linesize
		offset += p.Size()
	}
	if format.PixelFormat == types.PixelFormatYV12 {
		d.frame.Planes[1], d.frame.Planes[2] = d.frame.Planes[2], d.frame.Planes[1]
	}
	return nil
}

func (d *decoder) DecodeFrame(ctx context.Context, n int) (*types.DecodedFrame, error) {
	if d.closed {
		return nil, fmt.Errorf("decoder closed")
	}
	if n < 0 || n >= len(d.track.Frames) {
		return nil, fmt.Errorf("frame %d does not exist", n)
	}
	if d.mode == types.SeekLinearNoRewind && n < d.cursor {
		return nil, fmt.Errorf("cannot rewind from frame %d to %d in %s mode", d.cursor, n, d.mode)
	}

	args := buildDecodeArgs(d.request(n))
	cmd := exec.CommandContext(ctx, d.backend.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	_, readErr := io.ReadFull(stdout, d.buf)
	// drain anything past the first picture so ffmpeg can exit
	io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if readErr != nil {
		return nil, fmt.Errorf("ffmpeg produced no picture for frame %d: %w (%s)", n, readErr, lastLine(stderr.String()))
	}
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg failed on frame %d: %w (%s)", n, waitErr, lastLine(stderr.String()))
	}

	d.cursor = n
	d.frame.FrameType = parseFrameType(stderr.String())
	return &d.frame, nil
}

func (d *decoder) Close() error {
	d.closed = true
	d.buf = nil
	return nil
}

func (d *decoder) request(n int) decodeRequest {
	desc := d.track.Descriptor
	target := d.track.Frames[n].PTS
	key := target
	for i := n; i >= 0; i-- {
		if d.track.Frames[i].KeyFrame {
			key = d.track.Frames[i].PTS
			break
		}
	}
	return decodeRequest{
		Input:     d.input,
		Stream:    desc.TrackNumber,
		CodecHint: d.codecHint,
		Mode:      d.mode,
		Frame:     n,
		TargetPTS: target,
		KeyPTS:    key,
		Track:     desc,
		Format:    d.format,
	}
}

// decodeRequest holds everything that shapes one ffmpeg invocation
type decodeRequest struct {
	Input     string
	Stream    int
	CodecHint string
	Mode      types.SeekMode
	Frame     int
	TargetPTS int64
	KeyPTS    int64
	Track     types.TrackDescriptor
	Format    types.OutputFormat
}

func (r decodeRequest) seconds(pts int64) string {
	num, den := r.Track.TimeBaseNum, r.Track.TimeBaseDen
	if num == 0 || den == 0 {
		return "0"
	}
	return strconv.FormatFloat(float64(pts)*float64(num)/float64(den)/1000, 'f', 6, 64)
}

// buildDecodeArgs builds the ffmpeg arguments that write frame r.Frame of
// the stream as one raw picture to stdout
func buildDecodeArgs(r decodeRequest) []string {
	args := []string{"-hide_banner", "-nostdin", "-nostats", "-loglevel", "info"}

	var filters []string
	switch r.Mode {
	case types.SeekLinear, types.SeekLinearNoRewind:
		filters = append(filters, fmt.Sprintf("select=eq(n\\,%d)", r.Frame))
	case types.SeekUnsafe:
		args = append(args, "-ss", r.seconds(r.TargetPTS))
	case types.SeekAggressive:
		args = append(args, "-noaccurate_seek", "-ss", r.seconds(r.TargetPTS))
	default:
		// seek to the key frame, keep source timestamps and pick by pts
		args = append(args, "-copyts", "-ss", r.seconds(r.KeyPTS))
		filters = append(filters, fmt.Sprintf("select=gte(pts\\,%d)", r.TargetPTS))
	}

	if r.CodecHint != "" {
		args = append(args, "-c:v", r.CodecHint)
	}
	args = append(args, "-i", r.Input)
	args = append(args, "-map", fmt.Sprintf("0:%d", r.Stream))

	filters = append(filters,
		fmt.Sprintf("scale=%d:%d:flags=%s", r.Format.Width, r.Format.Height, swsFlags(r.Format.Resizer)),
		"format="+ffmpegPixelFormat(r.Format.PixelFormat),
		"showinfo",
	)
	args = append(args, "-vf", strings.Join(filters, ","))
	args = append(args, "-fps_mode", "passthrough", "-frames:v", "1")
	args = append(args, "-f", "rawvideo", "pipe:1")
	return args
}

// parseFrameType extracts the picture type showinfo logged
func parseFrameType(log string) string {
	if m := frameTypePattern.FindStringSubmatch(log); m != nil && m[1] != "?" {
		return m[1]
	}
	return ""
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
