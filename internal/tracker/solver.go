package tracker

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/MeKo-Tech/dvo/internal/lie"
)

// diagonalLoading is added to A's diagonal before factorization to guard
// against rank deficiency when a level degenerates.
const diagonalLoading = 1e-12

// solveDelta solves A * delta = -b for the Gauss-Newton step via a
// symmetric positive-definite factorization. ok is false when A or b is
// non-finite or the factorization fails; the caller treats that iteration
// as a zero step.
func solveDelta(a [6][6]float64, b [6]float64) (delta lie.Twist, ok bool) {
	sym := mat.NewSymDense(6, nil)
	for k := range 6 {
		if math.IsNaN(b[k]) || math.IsInf(b[k], 0) {
			return lie.Twist{}, false
		}
		for l := k; l < 6; l++ {
			v := a[k][l]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return lie.Twist{}, false
			}
			sym.SetSym(k, l, v)
		}
		sym.SetSym(k, k, sym.At(k, k)+diagonalLoading)
	}

	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return lie.Twist{}, false
	}
	rhs := mat.NewVecDense(6, []float64{-b[0], -b[1], -b[2], -b[3], -b[4], -b[5]})
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, rhs); err != nil {
		return lie.Twist{}, false
	}
	for k := range 6 {
		delta[k] = x.AtVec(k)
	}
	if !delta.IsFinite() {
		return lie.Twist{}, false
	}
	return delta, true
}

// applyDelta composes the step onto the current estimate on the manifold:
// xi <- log(exp(delta) * exp(xi)).
func applyDelta(xi, delta lie.Twist) lie.Twist {
	return lie.Log(lie.Compose(lie.Exp(delta), lie.Exp(xi)))
}
