// Package visualize renders tracker buffers as grayscale images for
// offline inspection of residuals and robust weights.
package visualize

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// mapToGray normalises a float buffer by its maximum magnitude and renders
// it as an 8-bit grayscale image.
func mapToGray(vals []float32, width, height int) *image.Gray {
	maxAbs := float32(0)
	for _, v := range vals {
		a := float32(math.Abs(float64(v)))
		if a > maxAbs {
			maxAbs = a
		}
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	if maxAbs == 0 {
		return img
	}
	for y := range height {
		for x := range width {
			a := float32(math.Abs(float64(vals[y*width+x]))) / maxAbs
			img.SetGray(x, y, color.Gray{Y: uint8(a * 255)})
		}
	}
	return img
}

// SaveMap writes a normalised |buffer| image, upscaled by the given integer
// factor so coarse pyramid levels stay legible.
func SaveMap(vals []float32, width, height, scale int, path string) error {
	if len(vals) != width*height {
		return fmt.Errorf("visualize: buffer size %d does not match %dx%d", len(vals), width, height)
	}
	if scale < 1 {
		scale = 1
	}
	img := mapToGray(vals, width, height)
	var out image.Image = img
	if scale > 1 {
		dst := image.NewGray(image.Rect(0, 0, width*scale, height*scale))
		xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
		out = dst
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("visualize: creating output dir: %w", err)
	}
	if err := imaging.Save(out, path); err != nil {
		return fmt.Errorf("visualize: saving %s: %w", path, err)
	}
	return nil
}
