package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	PixFmt    string `json:"pix_fmt"`
	TimeBase  string `json:"time_base"`
}

// packet is one line of ffprobe's packet listing
type packet struct {
	stream int
	pts    int64
	hasPTS bool
	pos    int64
	key    bool
}

// Index lists the container's streams and packets with ffprobe
func (b *Backend) Index(ctx context.Context, path string, opts backend.IndexOptions) (*types.SeekIndex, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	streams, err := b.probeStreams(ctx, path)
	if err != nil {
		return nil, err
	}

	idx := &types.SeekIndex{File: path, CodecHint: opts.CodecHint}
	byStream := make(map[int]int, len(streams))
	for i, s := range streams {
		num, den, err := parseTimeBase(s.TimeBase)
		if err != nil {
			return nil, fmt.Errorf("stream %d: %w", s.Index, err)
		}
		byStream[s.Index] = i
		idx.Tracks = append(idx.Tracks, types.TrackIndex{
			Descriptor: types.TrackDescriptor{
				TrackNumber: i,
				Type:        types.ParseTrackType(s.CodecType),
				TimeBaseNum: 1000 * num,
				TimeBaseDen: den,
				Codec:       s.CodecName,
				Encoded:     types.Resolution{Width: s.Width, Height: s.Height},
				PixelFormat: pixelFormatFromFFmpeg(s.PixFmt),
			},
		})
	}

	err = b.scanPackets(ctx, path, func(p packet) {
		i, ok := byStream[p.stream]
		if !ok {
			return
		}
		frames := idx.Tracks[i].Frames
		pts := p.pts
		if !p.hasPTS && len(frames) > 0 {
			pts = frames[len(frames)-1].PTS
		}
		idx.Tracks[i].Frames = append(frames, types.IndexEntry{PTS: pts, FilePos: p.pos, KeyFrame: p.key})
		if opts.Progress != nil && p.pos >= 0 {
			opts.Progress(p.pos, info.Size())
		}
	})
	if err != nil {
		return nil, err
	}

	// packets arrive in decode order
	for i := range idx.Tracks {
		frames := idx.Tracks[i].Frames
		sort.SliceStable(frames, func(a, b int) bool { return frames[a].PTS < frames[b].PTS })
		idx.Tracks[i].Descriptor.FrameCount = len(frames)
	}

	b.logger.Debug("indexed container", "file", path, "tracks", len(idx.Tracks))
	return idx, nil
}

func (b *Backend) probeStreams(ctx context.Context, path string) ([]ffprobeStream, error) {
	cmd := exec.CommandContext(ctx, b.ffprobePath,
		"-v", "error",
		"-show_streams",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ffprobeOutput
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(result.Streams) == 0 {
		return nil, fmt.Errorf("no streams found in %s", path)
	}
	sort.Slice(result.Streams, func(i, j int) bool { return result.Streams[i].Index < result.Streams[j].Index })
	return result.Streams, nil
}

func (b *Backend) scanPackets(ctx context.Context, path string, fn func(packet)) error {
	cmd := exec.CommandContext(ctx, b.ffprobePath,
		"-v", "error",
		"-show_entries", "packet=stream_index,pts,pos,flags",
		"-of", "csv=p=0",
		path,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffprobe: %w", err)
	}

	if err := readPackets(stdout, fn); err != nil {
		cmd.Wait()
		return err
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffprobe packet scan failed: %w", err)
	}
	return nil
}

func readPackets(r io.Reader, fn func(packet)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p, ok := parsePacketLine(scanner.Text())
		if ok {
			fn(p)
		}
	}
	return scanner.Err()
}

// parsePacketLine parses "stream_index,pts,pos,flags"
func parsePacketLine(line string) (packet, bool) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 4 {
		return packet{}, false
	}
	stream, err := strconv.Atoi(parts[0])
	if err != nil {
		return packet{}, false
	}

	p := packet{stream: stream, pos: -1}
	if pts, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
		p.pts = pts
		p.hasPTS = true
	}
	if pos, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
		p.pos = pos
	}
	p.key = strings.Contains(parts[3], "K")
	return p, true
}

// parseTimeBase parses ffprobe's "num/den" time base
func parseTimeBase(s string) (int64, int64, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time base %q", s)
	}
	num, err1 := strconv.ParseInt(parts[0], 10, 64)
	den, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || num <= 0 || den <= 0 {
		return 0, 0, fmt.Errorf("invalid time base %q", s)
	}
	return num, den, nil
}
