package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackDescriptorTimeConversion(t *testing.T) {
	// 1/25s ticks: 40ms per tick
	track := TrackDescriptor{TimeBaseNum: 1000, TimeBaseDen: 25}

	assert.Equal(t, int64(50), track.SecondsToPTS(2.0))
	assert.Equal(t, int64(2000), track.PTSToMillis(50))
	assert.Equal(t, int64(0), TrackDescriptor{}.SecondsToPTS(1))
}

func TestPlaneLayout(t *testing.T) {
	tests := []struct {
		format PixelFormat
		planes int
		size   int
	}{
		{PixelFormatYV12, 3, 320*240 + 2*160*120},
		{PixelFormatIYUV, 3, 320*240 + 2*160*120},
		{PixelFormatYUY2, 1, 2 * 320 * 240},
		{PixelFormatRGB24, 1, 3 * 320 * 240},
		{PixelFormatNone, 0, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			assert.Len(t, PlaneLayout(tt.format, 320, 240), tt.planes)
			assert.Equal(t, tt.size, FrameSize(tt.format, 320, 240))
		})
	}

	// odd sizes round chroma up
	layout := PlaneLayout(PixelFormatIYUV, 5, 3)
	assert.Equal(t, PlaneSpec{Linesize: 3, Rows: 2}, layout[1])
}

func TestOutputFormatApplyIsPartial(t *testing.T) {
	base := OutputFormat{Width: 640, Height: 480, Resizer: ResizeLanczos, PixelFormat: PixelFormatYV12}

	assert.Equal(t, base, base.Apply(OutputFormatRequest{}))

	updated := base.Apply(OutputFormatRequest{Height: 360, PixelFormat: PixelFormatRGB24})
	assert.Equal(t, 640, updated.Width)
	assert.Equal(t, 360, updated.Height)
	assert.Equal(t, ResizeLanczos, updated.Resizer)
	assert.Equal(t, PixelFormatRGB24, updated.PixelFormat)
}

func TestOutputFormatResolveUsesEncoded(t *testing.T) {
	f := OutputFormat{}.Resolve(Resolution{Width: 1920, Height: 1080}, PixelFormatYUY2)
	assert.Equal(t, OutputFormat{Width: 1920, Height: 1080, Resizer: ResizeBicubic, PixelFormat: PixelFormatYUY2}, f)

	f = OutputFormat{Width: 320}.Resolve(Resolution{Width: 1920, Height: 1080}, PixelFormatNone)
	assert.Equal(t, 320, f.Width)
	assert.Equal(t, PixelFormatIYUV, f.PixelFormat)
}

func TestParseEnums(t *testing.T) {
	mode, err := ParseSeekMode("Unsafe")
	require.NoError(t, err)
	assert.Equal(t, SeekUnsafe, mode)

	mode, err = ParseSeekMode("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSeekMode, mode)

	_, err = ParseSeekMode("backwards")
	assert.Error(t, err)

	r, err := ParseResizer("BilinearFast")
	require.NoError(t, err)
	assert.Equal(t, ResizeBilinearFast, r)

	pf, err := ParsePixelFormat("none")
	require.NoError(t, err)
	assert.Equal(t, PixelFormatNone, pf)

	_, err = ParsePixelFormat("nv12")
	assert.Error(t, err)
}

func TestDecodedFrameCopyAndEnrich(t *testing.T) {
	frame := &DecodedFrame{
		FrameType:   "I",
		Resolution:  Resolution{Width: 2, Height: 2},
		PixelFormat: PixelFormatIYUV,
	}
	frame.Planes[0] = []byte{1, 2, 3, 4}
	frame.Planes[1] = []byte{5}
	frame.Planes[2] = []byte{6}

	cp := frame.Copy()
	frame.Planes[0][0] = 9
	assert.Equal(t, byte(1), cp.Planes[0][0])
	assert.Equal(t, 3, cp.PlaneCount())
	assert.Equal(t, [MaxPlanes]int{4, 1, 1, 0}, cp.DataLengths())

	record := cp.Enrich(FrameRecord{FrameNumber: 7})
	assert.True(t, record.Enriched())
	assert.Equal(t, "I", record.FrameType)
	assert.Equal(t, 7, record.FrameNumber)
}
