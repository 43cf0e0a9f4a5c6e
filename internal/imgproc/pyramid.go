package imgproc

import (
	"fmt"

	"github.com/MeKo-Tech/dvo/internal/common"
)

// Level is one pyramid level: gray intensities, depth in meters (0 marks
// invalid), and centered gray derivatives.
type Level struct {
	Gray   *Image
	Depth  *Image
	GrayDX *Image
	GrayDY *Image
}

// Pyramid holds levels 0..MaxLevel of one frame. Buffers are allocated once
// and overwritten on every Fill; two pyramids are swapped by handle between
// frames, never copied.
type Pyramid struct {
	Levels  []Level
	workers int
}

// NewPyramid allocates all levels for a width x height frame. Width and
// height must be divisible by 2^maxLevel.
func NewPyramid(width, height, maxLevel, workers int) (*Pyramid, error) {
	if maxLevel < 0 {
		return nil, fmt.Errorf("imgproc: negative maxLevel %d", maxLevel)
	}
	div := 1 << maxLevel
	if width%div != 0 || height%div != 0 {
		return nil, fmt.Errorf("imgproc: %dx%d not divisible by 2^%d", width, height, maxLevel)
	}
	p := &Pyramid{Levels: make([]Level, maxLevel+1), workers: workers}
	for l := 0; l <= maxLevel; l++ {
		lw, lh := width>>l, height>>l
		p.Levels[l] = Level{
			Gray:   NewImage(lw, lh),
			Depth:  NewImage(lw, lh),
			GrayDX: NewImage(lw, lh),
			GrayDY: NewImage(lw, lh),
		}
	}
	return p, nil
}

// Fill populates every level from a full-resolution gray and depth frame:
// level 0 is a straight copy, higher levels are 2:1 downsamples, and the
// gray derivatives are recomputed per level.
func (p *Pyramid) Fill(gray, depth []float32) error {
	base := p.Levels[0]
	if err := base.Gray.CopyFrom(gray); err != nil {
		return err
	}
	if err := base.Depth.CopyFrom(depth); err != nil {
		return err
	}
	for l := 1; l < len(p.Levels); l++ {
		downsampleGray(p.Levels[l-1].Gray, p.Levels[l].Gray, p.workers)
		downsampleDepth(p.Levels[l-1].Depth, p.Levels[l].Depth, p.workers)
	}
	for l := range p.Levels {
		derivatives(p.Levels[l].Gray, p.Levels[l].GrayDX, p.Levels[l].GrayDY, p.workers)
	}
	return nil
}

// downsampleGray box-averages 2x2 blocks.
func downsampleGray(src, dst *Image, workers int) {
	common.ParallelRows(dst.Height, workers, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < dst.Width; x++ {
				sx, sy := 2*x, 2*y
				sum := src.At(sx, sy) + src.At(sx+1, sy) + src.At(sx, sy+1) + src.At(sx+1, sy+1)
				dst.Set(x, y, sum/4)
			}
		}
	})
}

// downsampleDepth averages only the valid (non-zero) samples of each 2x2
// block; if none are valid the output is 0. This is the only place where
// depth and gray differ in resampling policy.
func downsampleDepth(src, dst *Image, workers int) {
	common.ParallelRows(dst.Height, workers, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < dst.Width; x++ {
				sx, sy := 2*x, 2*y
				var sum float32
				var n int
				for _, d := range [4]float32{
					src.At(sx, sy), src.At(sx+1, sy),
					src.At(sx, sy+1), src.At(sx+1, sy+1),
				} {
					if d != 0 {
						sum += d
						n++
					}
				}
				if n == 0 {
					dst.Set(x, y, 0)
				} else {
					dst.Set(x, y, sum/float32(n))
				}
			}
		}
	})
}

// derivatives computes centered horizontal and vertical gray differences,
// falling back to one-sided differences on the border.
func derivatives(gray, dx, dy *Image, workers int) {
	w, h := gray.Width, gray.Height
	common.ParallelRows(h, workers, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				xl, xr := x-1, x+1
				div := float32(2)
				if xl < 0 {
					xl = 0
					div = 1
				}
				if xr >= w {
					xr = w - 1
					div = 1
				}
				dx.Set(x, y, (gray.At(xr, y)-gray.At(xl, y))/div)

				yu, yd := y-1, y+1
				div = 2
				if yu < 0 {
					yu = 0
					div = 1
				}
				if yd >= h {
					yd = h - 1
					div = 1
				}
				dy.Set(x, y, (gray.At(x, yd)-gray.At(x, yu))/div)
			}
		}
	})
}
