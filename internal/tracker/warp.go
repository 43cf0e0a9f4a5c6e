package tracker

import (
	"sync/atomic"

	"github.com/MeKo-Tech/dvo/internal/common"
	"github.com/MeKo-Tech/dvo/internal/imgproc"
)

// invalidCoord marks pixels whose warp left the image or had no depth.
const invalidCoord = -1

// warpParams is the per-iteration uniform block handed to the warp kernel:
// the fused rotation RK^-1 (row-major), the translation, and the level
// projection. Computed once on the host per iteration.
type warpParams struct {
	rkInv [9]float32
	t     [3]float32
	fx    float32
	fy    float32
	cx    float32
	cy    float32
}

// warp transforms every previous-frame pixel of the level into the current
// frame: back-project with depth, rigid transform, reproject. Invalid
// pixels (zero depth, behind the camera, outside the image) get
// u = v = invalidCoord. Returns the number of valid pixels.
//
// The original implementation wrote p[1]/p[2] into u_warped; u here comes
// from p[0] and v from p[1].
func (t *Tracker) warp(prev *imgproc.Level, p warpParams) int {
	w, h := prev.Depth.Width, prev.Depth.Height
	depth := prev.Depth.Pix
	maxU := float32(w - 1)
	maxV := float32(h - 1)

	var validCount int64
	common.ParallelRows(h, t.cfg.Workers, func(y0, y1 int) {
		valid := int64(0)
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				d := depth[i]
				if d == 0 {
					t.uw[i] = invalidCoord
					t.vw[i] = invalidCoord
					continue
				}
				// p' = RK^-1 * (x*d, y*d, d) + t
				xd := float32(x) * d
				yd := float32(y) * d
				px := p.rkInv[0]*xd + p.rkInv[1]*yd + p.rkInv[2]*d + p.t[0]
				py := p.rkInv[3]*xd + p.rkInv[4]*yd + p.rkInv[5]*d + p.t[1]
				pz := p.rkInv[6]*xd + p.rkInv[7]*yd + p.rkInv[8]*d + p.t[2]
				t.xp[i] = px
				t.yp[i] = py
				t.zp[i] = pz
				if pz <= 0 {
					t.uw[i] = invalidCoord
					t.vw[i] = invalidCoord
					continue
				}
				u := (p.fx*px + p.cx*pz) / pz
				v := (p.fy*py + p.cy*pz) / pz
				if u < 0 || v < 0 || u > maxU || v > maxV {
					t.uw[i] = invalidCoord
					t.vw[i] = invalidCoord
					continue
				}
				t.uw[i] = u
				t.vw[i] = v
				valid++
			}
		}
		atomic.AddInt64(&validCount, valid)
	})

	return int(validCount)
}
