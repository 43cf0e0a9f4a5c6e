package tracker

import (
	"math"

	"github.com/MeKo-Tech/dvo/internal/common"
	"github.com/MeKo-Tech/dvo/internal/imgproc"
)

// residuals computes the photometric residual r_i = I_cur(u', v') -
// I_prev(x, y) for every valid pixel. Invalid pixels write r = 0 so the
// downstream reductions stay branch free.
func (t *Tracker) residuals(prev, cur *imgproc.Level) {
	w, h := prev.Gray.Width, prev.Gray.Height
	prevGray := prev.Gray.Pix
	common.ParallelRows(h, t.cfg.Workers, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				u := t.uw[i]
				if u == invalidCoord {
					t.r[i] = 0
					continue
				}
				ri := cur.Gray.Bilinear(u, t.vw[i]) - prevGray[i]
				if math.IsNaN(float64(ri)) {
					t.r[i] = 0
					t.uw[i] = invalidCoord
					t.vw[i] = invalidCoord
					continue
				}
				t.r[i] = ri
			}
		}
	})
}

// jacobian fills the n x 6 Jacobian in row-major per-pixel layout. Row i is
// the derivative of r_i with respect to the twist at xi = 0
// (left-perturbation convention):
//
//	J = (g_x, g_y) * dPi/dP * [ I | -[P]x ]
//
// with (g_x, g_y) the current-frame gradients sampled at the warped
// position and P = (X, Y, Z) the transformed point. Invalid pixels get an
// all-zero row.
func (t *Tracker) jacobian(cur *imgproc.Level, fx, fy float32) {
	w, h := cur.Gray.Width, cur.Gray.Height
	common.ParallelRows(h, t.cfg.Workers, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				row := t.j[i*6 : i*6+6]
				u := t.uw[i]
				if u == invalidCoord {
					for k := range row {
						row[k] = 0
					}
					continue
				}
				v := t.vw[i]
				gx := cur.GrayDX.Bilinear(u, v)
				gy := cur.GrayDY.Bilinear(u, v)
				X, Y, Z := t.xp[i], t.yp[i], t.zp[i]

				a := gx * fx / Z
				b := gy * fy / Z
				c := -(a*X + b*Y) / Z

				row[0] = a
				row[1] = b
				row[2] = c
				row[3] = c*Y - b*Z
				row[4] = a*Z - c*X
				row[5] = b*X - a*Y

				if rowHasNaN(row) {
					for k := range row {
						row[k] = 0
					}
					t.r[i] = 0
					t.uw[i] = invalidCoord
					t.vw[i] = invalidCoord
				}
			}
		}
	})
}

func rowHasNaN(row []float32) bool {
	for _, v := range row {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return true
		}
	}
	return false
}
