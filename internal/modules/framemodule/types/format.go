package types

import (
	"fmt"
	"strings"
)

// SeekMode trades seek accuracy against speed when jumping to a
// non-adjacent frame.
type SeekMode string

const (
	// SeekLinearNoRewind decodes linearly and refuses to seek backwards
	SeekLinearNoRewind SeekMode = "linear_no_rewind"
	// SeekLinear decodes linearly from the start, rewinding when needed
	SeekLinear SeekMode = "linear"
	// SeekNormal seeks to the preceding key frame and decodes forward
	SeekNormal SeekMode = "normal"
	// SeekUnsafe seeks like normal but trusts the container's key frame flags
	SeekUnsafe SeekMode = "unsafe"
	// SeekAggressive seeks straight to the target timestamp
	SeekAggressive SeekMode = "aggressive"
)

// DefaultSeekMode is used until SetSeekHandling is called
const DefaultSeekMode = SeekNormal

var seekModes = []SeekMode{SeekLinearNoRewind, SeekLinear, SeekNormal, SeekUnsafe, SeekAggressive}

// ParseSeekMode validates a seek mode name
func ParseSeekMode(s string) (SeekMode, error) {
	norm := SeekMode(strings.ToLower(strings.TrimSpace(s)))
	if norm == "" {
		return DefaultSeekMode, nil
	}
	for _, m := range seekModes {
		if m == norm {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown seek mode %q", s)
}

// Resizer selects the scaling algorithm applied to decoded frames
type Resizer string

const (
	ResizeArea         Resizer = "area"
	ResizeBicubLin     Resizer = "bicublin"
	ResizeBicubic      Resizer = "bicubic"
	ResizeBilinear     Resizer = "bilinear"
	ResizeBilinearFast Resizer = "fast_bilinear"
	ResizeGauss        Resizer = "gauss"
	ResizeLanczos      Resizer = "lanczos"
	ResizePoint        Resizer = "point"
	ResizeSinc         Resizer = "sinc"
	ResizeSpline       Resizer = "spline"
	ResizeX            Resizer = "x"
)

// DefaultResizer is the resizer used when none is configured
const DefaultResizer = ResizeBicubic

var resizers = []Resizer{
	ResizeArea, ResizeBicubLin, ResizeBicubic, ResizeBilinear, ResizeBilinearFast,
	ResizeGauss, ResizeLanczos, ResizePoint, ResizeSinc, ResizeSpline, ResizeX,
}

// ParseResizer validates a resizer name. An empty name yields the default.
func ParseResizer(s string) (Resizer, error) {
	norm := Resizer(strings.ToLower(strings.TrimSpace(s)))
	if norm == "" {
		return DefaultResizer, nil
	}
	if norm == "bilinearfast" {
		return ResizeBilinearFast, nil
	}
	for _, r := range resizers {
		if r == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resizer %q", s)
}

// PixelFormat is the output color-plane layout of decoded frames
type PixelFormat string

const (
	PixelFormatNone  PixelFormat = ""
	PixelFormatYV12  PixelFormat = "yv12"
	PixelFormatIYUV  PixelFormat = "iyuv"
	PixelFormatYUY2  PixelFormat = "yuy2"
	PixelFormatRGB24 PixelFormat = "rgb24"
	PixelFormatBGR24 PixelFormat = "bgr24"
)

// DisplayPixelFormat is what renderers receive when a frame carries no format
const DisplayPixelFormat = PixelFormatYV12

var pixelFormats = []PixelFormat{PixelFormatYV12, PixelFormatIYUV, PixelFormatYUY2, PixelFormatRGB24, PixelFormatBGR24}

// ParsePixelFormat validates a pixel format name. "none" and "" both mean
// PixelFormatNone.
func ParsePixelFormat(s string) (PixelFormat, error) {
	norm := PixelFormat(strings.ToLower(strings.TrimSpace(s)))
	if norm == "" || norm == "none" {
		return PixelFormatNone, nil
	}
	for _, p := range pixelFormats {
		if p == norm {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported pixel format %q", s)
}

// PlaneSpec is the size of one plane of a raw picture
type PlaneSpec struct {
	Linesize int
	Rows     int
}

// Size returns the byte length of the plane
func (p PlaneSpec) Size() int {
	return p.Linesize * p.Rows
}

// PlaneLayout returns the plane geometry of a w x h picture in the given
// format, in delivery order. YV12 carries V before U.
func PlaneLayout(pf PixelFormat, w, h int) []PlaneSpec {
	cw, ch := (w+1)/2, (h+1)/2
	switch pf {
	case PixelFormatYV12, PixelFormatIYUV:
		return []PlaneSpec{{w, h}, {cw, ch}, {cw, ch}}
	case PixelFormatYUY2:
		return []PlaneSpec{{2 * w, h}}
	case PixelFormatRGB24, PixelFormatBGR24:
		return []PlaneSpec{{3 * w, h}}
	default:
		return nil
	}
}

// FrameSize returns the total byte length of a picture
func FrameSize(pf PixelFormat, w, h int) int {
	total := 0
	for _, p := range PlaneLayout(pf, w, h) {
		total += p.Size()
	}
	return total
}

// OutputFormat is the format a decode source delivers frames in. Zero
// width/height or PixelFormatNone mean "use the encoded value".
type OutputFormat struct {
	Width       int         `json:"width" yaml:"width"`
	Height      int         `json:"height" yaml:"height"`
	Resizer     Resizer     `json:"resizer" yaml:"resizer"`
	PixelFormat PixelFormat `json:"pixel_format" yaml:"pixel_format"`
}

// OutputFormatRequest is a partial update to the output format. Zero values
// leave the current setting unchanged.
type OutputFormatRequest struct {
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Resizer     Resizer     `json:"resizer"`
	PixelFormat PixelFormat `json:"pixel_format"`
}

// Apply returns f updated with the non-zero fields of req
func (f OutputFormat) Apply(req OutputFormatRequest) OutputFormat {
	if req.Width > 0 {
		f.Width = req.Width
	}
	if req.Height > 0 {
		f.Height = req.Height
	}
	if req.Resizer != "" {
		f.Resizer = req.Resizer
	}
	if req.PixelFormat != PixelFormatNone {
		f.PixelFormat = req.PixelFormat
	}
	return f
}

// Resolve fills unset fields from the source's encoded properties
func (f OutputFormat) Resolve(encoded Resolution, encodedFormat PixelFormat) OutputFormat {
	if f.Width <= 0 {
		f.Width = encoded.Width
	}
	if f.Height <= 0 {
		f.Height = encoded.Height
	}
	if f.Resizer == "" {
		f.Resizer = DefaultResizer
	}
	if f.PixelFormat == PixelFormatNone {
		f.PixelFormat = encodedFormat
	}
	if f.PixelFormat == PixelFormatNone {
		f.PixelFormat = PixelFormatIYUV
	}
	return f
}

// MaxPlanes is the maximum number of planes a decoded frame carries
const MaxPlanes = 4

// DecodedFrame is the internal view of a frame: raw planes plus decode
// results. Buffers belong to the decoder and are only valid until the next
// decode call on the same source unless copied out with Copy.
type DecodedFrame struct {
	Planes      [MaxPlanes][]byte
	Linesize    [MaxPlanes]int
	FrameType   string
	Resolution  Resolution
	PixelFormat PixelFormat
}

// PlaneCount returns the number of populated planes
func (d *DecodedFrame) PlaneCount() int {
	n := 0
	for _, p := range d.Planes {
		if len(p) > 0 {
			n++
		}
	}
	return n
}

// DataLengths returns the byte length of each plane
func (d *DecodedFrame) DataLengths() [MaxPlanes]int {
	var lengths [MaxPlanes]int
	for i, p := range d.Planes {
		lengths[i] = len(p)
	}
	return lengths
}

// Copy detaches the frame from the decoder's buffers
func (d *DecodedFrame) Copy() *DecodedFrame {
	out := *d
	for i, p := range d.Planes {
		if p != nil {
			out.Planes[i] = append([]byte(nil), p...)
		}
	}
	return &out
}

// Enrich returns record with the decode results attached
func (d *DecodedFrame) Enrich(record FrameRecord) FrameRecord {
	record.FrameType = d.FrameType
	record.Resolution = d.Resolution
	return record
}
