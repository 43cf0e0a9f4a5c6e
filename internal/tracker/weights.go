package tracker

import (
	"math"

	"github.com/MeKo-Tech/dvo/internal/common"
)

const (
	// maxVarianceIterations caps the Student-t scale estimation loop.
	maxVarianceIterations = 5
	// precisionTolerance stops the scale loop once 1/variance settles.
	precisionTolerance = 1e-3
	// varianceFloor guards the weight formula when every residual is zero.
	varianceFloor = 1e-12
)

// computeWeights fills the weight buffer for the first n pixels of the
// level and returns the final variance estimate. Invalid pixels always get
// weight 0; the residual stage left their residuals at 0.
//
// For Student-t weighting the scale sigma^2 is re-estimated by fixed-point
// iteration. The previous variance is captured before each update so the
// convergence test compares consecutive iterates; the original compared
// the new value against itself.
func (t *Tracker) computeWeights(n int, variance float64) float64 {
	if t.cfg.Weighting.Kind == WeightUniform {
		t.uniformWeights(n)
		return variance
	}
	return t.tdistWeights(n, variance)
}

func (t *Tracker) uniformWeights(n int) {
	common.ParallelRows(n, t.cfg.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if t.uw[i] == invalidCoord {
				t.w[i] = 0
			} else {
				t.w[i] = 1
			}
		}
	})
}

func (t *Tracker) tdistWeights(n int, variance float64) float64 {
	dof := t.cfg.Weighting.DoF

	for iter := 0; iter < maxVarianceIterations; iter++ {
		prev := variance
		// The weight buffer doubles as scratch for the per-pixel terms
		// s_i = r_i^2 (dof+1) / (dof + r_i^2 / sigma^2), whose mean is
		// the next variance estimate.
		vPrev := float32(prev)
		common.ParallelRows(n, t.cfg.Workers, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				r2 := t.r[i] * t.r[i]
				t.w[i] = r2 * float32(dof+1) / (float32(dof) + r2/vPrev)
			}
		})
		variance = t.reduceSum(t.w, n) / float64(n)
		if variance < varianceFloor {
			variance = varianceFloor
		}
		if math.Abs(1/variance-1/prev) < precisionTolerance {
			break
		}
	}

	v := float32(variance)
	d := float32(dof)
	common.ParallelRows(n, t.cfg.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if t.uw[i] == invalidCoord {
				t.w[i] = 0
				continue
			}
			r2 := t.r[i] * t.r[i]
			t.w[i] = (d + 1) / (d + r2/v)
		}
	})
	return variance
}
