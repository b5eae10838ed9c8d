package display

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// Image wraps a decoded frame's planes in an image.Image without converting
// colors. Planar YUV maps to image.YCbCr, packed RGB to image.RGBA.
func Image(f *types.DecodedFrame) (image.Image, error) {
	w, h := f.Resolution.Width, f.Resolution.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("frame has no resolution")
	}
	rect := image.Rect(0, 0, w, h)
	layout := types.PlaneLayout(f.PixelFormat, w, h)
	if layout == nil {
		return nil, fmt.Errorf("unsupported pixel format %q", f.PixelFormat)
	}
	for i, p := range layout {
		if len(f.Planes[i]) < p.Size() {
			return nil, fmt.Errorf("plane %d holds %d bytes, need %d", i, len(f.Planes[i]), p.Size())
		}
	}

	switch f.PixelFormat {
	case types.PixelFormatIYUV, types.PixelFormatYV12:
		cb, cr := 1, 2
		if f.PixelFormat == types.PixelFormatYV12 {
			cb, cr = 2, 1
		}
		return &image.YCbCr{
			Y:              f.Planes[0],
			Cb:             f.Planes[cb],
			Cr:             f.Planes[cr],
			YStride:        f.Linesize[0],
			CStride:        f.Linesize[cb],
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil

	case types.PixelFormatYUY2:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
		src, stride := f.Planes[0], f.Linesize[0]
		for y := 0; y < h; y++ {
			row := src[y*stride:]
			for x := 0; x < w; x++ {
				img.Y[y*img.YStride+x] = row[2*x]
			}
			for x := 0; x < w/2; x++ {
				img.Cb[y*img.CStride+x] = row[4*x+1]
				img.Cr[y*img.CStride+x] = row[4*x+3]
			}
			if w%2 == 1 {
				// odd widths carry no chroma for the last pixel
				img.Cb[y*img.CStride+w/2] = 0x80
				img.Cr[y*img.CStride+w/2] = 0x80
			}
		}
		return img, nil

	case types.PixelFormatRGB24, types.PixelFormatBGR24:
		img := image.NewRGBA(rect)
		src, stride := f.Planes[0], f.Linesize[0]
		r, b := 0, 2
		if f.PixelFormat == types.PixelFormatBGR24 {
			r, b = 2, 0
		}
		for y := 0; y < h; y++ {
			row := src[y*stride:]
			out := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				out[4*x] = row[3*x+r]
				out[4*x+1] = row[3*x+1]
				out[4*x+2] = row[3*x+b]
				out[4*x+3] = 0xff
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("unsupported pixel format %q", f.PixelFormat)
}

// EncodeWebP encodes a decoded frame as WebP. Quality 100 or above is lossless.
func EncodeWebP(f *types.DecodedFrame, quality int) ([]byte, error) {
	img, err := Image(f)
	if err != nil {
		return nil, err
	}

	options := &webp.Options{Lossless: quality >= 100}
	if !options.Lossless {
		if quality <= 0 {
			quality = 80
		}
		options.Quality = float32(quality)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode as WebP: %w", err)
	}
	return buf.Bytes(), nil
}
