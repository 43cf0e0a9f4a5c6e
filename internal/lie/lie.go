// Package lie implements the se(3)/SE(3) machinery used by the tracker:
// twist vectors, the exponential and logarithm maps, and the small helpers
// needed to compose and invert rigid-body transforms.
package lie

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Twist is an element of se(3): linear velocity first, angular second,
// (nu_x, nu_y, nu_z, omega_x, omega_y, omega_z).
type Twist [6]float64

// smallAngle is the squared-angle threshold below which the closed-form
// Rodrigues terms are replaced by their Taylor expansions.
const smallAngle = 1e-10

// Zero reports whether all six components are exactly zero.
func (t Twist) Zero() bool {
	for _, v := range t {
		if v != 0 {
			return false
		}
	}
	return true
}

// Norm returns the Euclidean norm of the twist.
func (t Twist) Norm() float64 {
	s := 0.0
	for _, v := range t {
		s += v * v
	}
	return math.Sqrt(s)
}

// IsFinite reports whether every component is finite.
func (t Twist) IsFinite() bool {
	for _, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// hat returns the skew-symmetric matrix of a 3-vector.
func hat(w [3]float64) [3][3]float64 {
	return [3][3]float64{
		{0, -w[2], w[1]},
		{w[2], 0, -w[0]},
		{-w[1], w[0], 0},
	}
}

// Exp maps a twist to its 4x4 rigid-body transform via the closed-form
// exponential. The rotation block follows Rodrigues' formula; translation
// uses the left Jacobian V so that Exp(Log(T)) == T.
func Exp(xi Twist) *mat.Dense {
	nu := [3]float64{xi[0], xi[1], xi[2]}
	w := [3]float64{xi[3], xi[4], xi[5]}
	theta2 := w[0]*w[0] + w[1]*w[1] + w[2]*w[2]
	theta := math.Sqrt(theta2)

	// Coefficients of R = I + a*[w]x + b*[w]x^2 and V = I + c*[w]x + d*[w]x^2.
	var a, b, c, d float64
	if theta2 < smallAngle {
		a = 1 - theta2/6
		b = 0.5 - theta2/24
		c = 0.5 - theta2/24
		d = 1.0/6 - theta2/120
	} else {
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / theta2
		c = b
		d = (theta - math.Sin(theta)) / (theta2 * theta)
	}

	wx := hat(w)
	wx2 := matMul3(wx, wx)

	T := mat.NewDense(4, 4, nil)
	for i := range 3 {
		for j := range 3 {
			r := a*wx[i][j] + b*wx2[i][j]
			if i == j {
				r++
			}
			T.Set(i, j, r)
		}
	}
	// t = V * nu, accumulated without forming V explicitly
	for i := range 3 {
		ti := 0.0
		for j := range 3 {
			v := c*wx[i][j] + d*wx2[i][j]
			if i == j {
				v++
			}
			ti += v * nu[j]
		}
		T.Set(i, 3, ti)
	}
	T.Set(3, 3, 1)
	return T
}

// Log maps a rigid-body transform back to its twist. Inverse of Exp for
// rotation angles below pi.
func Log(T *mat.Dense) Twist {
	var R [3][3]float64
	var t [3]float64
	for i := range 3 {
		for j := range 3 {
			R[i][j] = T.At(i, j)
		}
		t[i] = T.At(i, 3)
	}

	tr := R[0][0] + R[1][1] + R[2][2]
	cosTheta := (tr - 1) / 2
	if cosTheta > 1 {
		cosTheta = 1
	} else if cosTheta < -1 {
		cosTheta = -1
	}
	theta := math.Acos(cosTheta)
	theta2 := theta * theta

	// w = theta/(2 sin theta) * vee(R - R^T)
	var w [3]float64
	var k float64
	if theta2 < smallAngle {
		k = 0.5 + theta2/12
	} else {
		k = theta / (2 * math.Sin(theta))
	}
	w[0] = k * (R[2][1] - R[1][2])
	w[1] = k * (R[0][2] - R[2][0])
	w[2] = k * (R[1][0] - R[0][1])

	// nu = Vinv * t with Vinv = I - 1/2 [w]x + e [w]x^2
	var e float64
	if theta2 < smallAngle {
		e = 1.0/12 + theta2/720
	} else {
		e = (1 - theta*math.Cos(theta/2)/(2*math.Sin(theta/2))) / theta2
	}
	wx := hat(w)
	wx2 := matMul3(wx, wx)
	var nu [3]float64
	for i := range 3 {
		for j := range 3 {
			v := -0.5*wx[i][j] + e*wx2[i][j]
			if i == j {
				v++
			}
			nu[i] += v * t[j]
		}
	}

	return Twist{nu[0], nu[1], nu[2], w[0], w[1], w[2]}
}

// Compose returns a*b.
func Compose(a, b *mat.Dense) *mat.Dense {
	c := mat.NewDense(4, 4, nil)
	c.Mul(a, b)
	return c
}

// Inverse returns the inverse transform [R^T | -R^T t].
func Inverse(T *mat.Dense) *mat.Dense {
	inv := mat.NewDense(4, 4, nil)
	for i := range 3 {
		for j := range 3 {
			inv.Set(i, j, T.At(j, i))
		}
	}
	for i := range 3 {
		s := 0.0
		for j := range 3 {
			s -= T.At(j, i) * T.At(j, 3)
		}
		inv.Set(i, 3, s)
	}
	inv.Set(3, 3, 1)
	return inv
}

// RotationTranslation splits a transform into its rotation block and
// translation vector.
func RotationTranslation(T *mat.Dense) (R [3][3]float64, t [3]float64) {
	for i := range 3 {
		for j := range 3 {
			R[i][j] = T.At(i, j)
		}
		t[i] = T.At(i, 3)
	}
	return R, t
}

func matMul3(a, b [3][3]float64) [3][3]float64 {
	var c [3][3]float64
	for i := range 3 {
		for j := range 3 {
			for k := range 3 {
				c[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return c
}
