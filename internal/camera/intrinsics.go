// Package camera holds the pinhole intrinsics and their per-level pyramid.
package camera

import (
	"errors"
	"fmt"
)

// Intrinsics is a zero-skew pinhole projection.
type Intrinsics struct {
	Fx float64
	Fy float64
	Cx float64
	Cy float64
}

// FromMatrix builds Intrinsics from a row-major 3x3 projection matrix.
// The matrix must be upper triangular with zero skew, non-zero focal
// lengths, and a [0 0 1] bottom row.
func FromMatrix(k [9]float64) (Intrinsics, error) {
	if k[3] != 0 || k[6] != 0 || k[7] != 0 {
		return Intrinsics{}, errors.New("camera: projection matrix is not upper triangular")
	}
	if k[1] != 0 {
		return Intrinsics{}, errors.New("camera: non-zero skew is not supported")
	}
	if k[8] != 1 {
		return Intrinsics{}, fmt.Errorf("camera: expected unit scale, got %v", k[8])
	}
	in := Intrinsics{Fx: k[0], Fy: k[4], Cx: k[2], Cy: k[5]}
	if in.Fx == 0 || in.Fy == 0 {
		return Intrinsics{}, errors.New("camera: focal lengths must be non-zero")
	}
	return in, nil
}

// Matrix returns the row-major 3x3 projection matrix.
func (in Intrinsics) Matrix() [9]float64 {
	return [9]float64{in.Fx, 0, in.Cx, 0, in.Fy, in.Cy, 0, 0, 1}
}

// InverseMatrix returns the row-major 3x3 inverse projection matrix.
func (in Intrinsics) InverseMatrix() [9]float64 {
	return [9]float64{
		1 / in.Fx, 0, -in.Cx / in.Fx,
		0, 1 / in.Fy, -in.Cy / in.Fy,
		0, 0, 1,
	}
}

// Halve returns the intrinsics of the next pyramid level: focal lengths and
// principal point scaled by one half, equivalent to diag(0.5, 0.5, 1) * K.
func (in Intrinsics) Halve() Intrinsics {
	return Intrinsics{Fx: in.Fx / 2, Fy: in.Fy / 2, Cx: in.Cx / 2, Cy: in.Cy / 2}
}

// Pyramid returns intrinsics for levels 0..maxLevel, level 0 first.
func Pyramid(in Intrinsics, maxLevel int) []Intrinsics {
	pyr := make([]Intrinsics, maxLevel+1)
	pyr[0] = in
	for l := 1; l <= maxLevel; l++ {
		pyr[l] = pyr[l-1].Halve()
	}
	return pyr
}
