// Package testutil generates the synthetic gray+depth frame pairs used by
// the alignment tests: smooth intensity patterns sampled from a continuous
// function so that shifted and rotated variants stay exactly consistent
// with the photometric model.
package testutil

import (
	"math"
)

// Intensity is the smooth test pattern: a low-frequency sinusoid blend
// with unit range, safe to sample at any real coordinate.
func Intensity(x, y float64) float32 {
	v := 0.5 +
		0.25*math.Sin(x*0.18+0.7) +
		0.25*math.Cos(y*0.13-0.3)*math.Sin(x*0.07)
	return float32(v * 0.9)
}

// SmoothFrame samples the pattern on a width x height grid.
func SmoothFrame(width, height int) []float32 {
	out := make([]float32, width*height)
	for y := range height {
		for x := range width {
			out[y*width+x] = Intensity(float64(x), float64(y))
		}
	}
	return out
}

// ShiftedFrame samples the pattern displaced by (dx, dy) pixels: the
// content at (x, y) in the base frame appears at (x+dx, y+dy) here.
func ShiftedFrame(width, height int, dx, dy float64) []float32 {
	out := make([]float32, width*height)
	for y := range height {
		for x := range width {
			out[y*width+x] = Intensity(float64(x)-dx, float64(y)-dy)
		}
	}
	return out
}

// RotatedFrame samples the pattern rotated by theta radians about
// (cx, cy), matching the image motion of a pure camera roll about the
// principal point.
func RotatedFrame(width, height int, theta, cx, cy float64) []float32 {
	out := make([]float32, width*height)
	sin, cos := math.Sincos(theta)
	for y := range height {
		for x := range width {
			// Inverse rotation fetches the source intensity.
			rx := float64(x) - cx
			ry := float64(y) - cy
			sx := cos*rx + sin*ry + cx
			sy := -sin*rx + cos*ry + cy
			out[y*width+x] = Intensity(sx, sy)
		}
	}
	return out
}

// ConstantDepth returns a depth buffer filled with d meters.
func ConstantDepth(width, height int, d float32) []float32 {
	out := make([]float32, width*height)
	for i := range out {
		out[i] = d
	}
	return out
}
