// Package imgproc provides the flat float32 image buffers the tracker works
// on, grayscale conversion from decoded images, bilinear sampling, and the
// coarse-to-fine pyramid with image derivatives.
package imgproc

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Image is a single-channel float32 raster in row-major layout.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// NewImage allocates a zeroed image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// At returns the pixel at (x, y). No bounds check; callers stay in range.
func (im *Image) At(x, y int) float32 {
	return im.Pix[y*im.Width+x]
}

// Set writes the pixel at (x, y).
func (im *Image) Set(x, y int, v float32) {
	im.Pix[y*im.Width+x] = v
}

// CopyFrom overwrites the pixel buffer from a flat slice of the same size.
func (im *Image) CopyFrom(pix []float32) error {
	if len(pix) != len(im.Pix) {
		return fmt.Errorf("imgproc: buffer size %d does not match %dx%d image", len(pix), im.Width, im.Height)
	}
	copy(im.Pix, pix)
	return nil
}

// GrayFloats converts a decoded image to row-major float32 intensities in
// [0, 1] using the same luminance conversion as the rest of the pipeline.
func GrayFloats(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, errors.New("imgproc: input image is nil")
	}
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, w*h)
	for y := range h {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w*4]
		for x := range w {
			// NRGBA after Grayscale has R == G == B.
			out[y*w+x] = float32(row[x*4]) / 255.0
		}
	}
	return out, w, h, nil
}
