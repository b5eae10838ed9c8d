// Package ffmpeg implements the decode backend on top of the ffprobe and
// ffmpeg executables. Indexing lists every packet of the container with
// ffprobe; decoding runs one ffmpeg process per requested frame and reads the
// raw picture from its stdout.
package ffmpeg

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framecache/internal/modules/framemodule/backend"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// Name is the registry name of this backend
const Name = "ffmpeg"

func init() {
	backend.Register(Name, func(settings map[string]string) (backend.Backend, error) {
		return New(Config{
			FFmpegPath:  settings["ffmpeg_path"],
			FFprobePath: settings["ffprobe_path"],
		}, nil), nil
	})
}

// Config locates the executables
type Config struct {
	FFmpegPath  string
	FFprobePath string
}

// Backend runs ffprobe and ffmpeg subprocesses
type Backend struct {
	ffmpegPath  string
	ffprobePath string
	logger      hclog.Logger
}

// New creates an ffmpeg backend
func New(cfg Config, logger hclog.Logger) *Backend {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Backend{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		logger:      logger.Named("ffmpeg"),
	}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return Name
}

// pixelFormatFromFFmpeg maps an ffmpeg pix_fmt to the formats we deliver
func pixelFormatFromFFmpeg(s string) types.PixelFormat {
	switch s {
	case "yuv420p", "yuvj420p":
		return types.PixelFormatIYUV
	case "yuyv422":
		return types.PixelFormatYUY2
	case "rgb24":
		return types.PixelFormatRGB24
	case "bgr24":
		return types.PixelFormatBGR24
	default:
		return types.PixelFormatNone
	}
}

// ffmpegPixelFormat is the pix_fmt ffmpeg writes for an output format. YV12
// is produced as yuv420p with the chroma planes swapped afterwards.
func ffmpegPixelFormat(pf types.PixelFormat) string {
	switch pf {
	case types.PixelFormatYV12, types.PixelFormatIYUV:
		return "yuv420p"
	case types.PixelFormatYUY2:
		return "yuyv422"
	case types.PixelFormatRGB24:
		return "rgb24"
	case types.PixelFormatBGR24:
		return "bgr24"
	default:
		return ""
	}
}

// swsFlags maps a resizer to the scale filter's flags
func swsFlags(r types.Resizer) string {
	switch r {
	case types.ResizeArea:
		return "area"
	case types.ResizeBicubLin:
		return "bicublin"
	case types.ResizeBilinear:
		return "bilinear"
	case types.ResizeBilinearFast:
		return "fast_bilinear"
	case types.ResizeGauss:
		return "gauss"
	case types.ResizeLanczos:
		return "lanczos"
	case types.ResizePoint:
		return "neighbor"
	case types.ResizeSinc:
		return "sinc"
	case types.ResizeSpline:
		return "spline"
	case types.ResizeX:
		return "experimental"
	default:
		return "bicubic"
	}
}
