// Package trajectory writes estimated camera poses in the TUM trajectory
// format: one "timestamp tx ty tz qx qy qz qw" line per frame.
package trajectory

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/MeKo-Tech/dvo/internal/lie"
)

// Writer appends poses to a trajectory file as they are estimated.
type Writer struct {
	f *os.File
	w *bufio.Writer
}

// NewWriter creates (or truncates) the trajectory file.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path) //nolint:gosec // G304: writing a user-provided output path is expected
	if err != nil {
		return nil, fmt.Errorf("trajectory: creating %s: %w", path, err)
	}
	return &Writer{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one pose line. The twist is converted to a translation and
// a unit quaternion via the SE(3) exponential.
func (tw *Writer) Append(timestamp float64, xi lie.Twist) error {
	T := lie.Exp(xi)
	r, t := lie.RotationTranslation(T)
	qx, qy, qz, qw := quaternion(r)
	_, err := fmt.Fprintf(tw.w, "%.6f %.6f %.6f %.6f %.6f %.6f %.6f %.6f\n",
		timestamp, t[0], t[1], t[2], qx, qy, qz, qw)
	if err != nil {
		return fmt.Errorf("trajectory: writing pose: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (tw *Writer) Close() error {
	if err := tw.w.Flush(); err != nil {
		_ = tw.f.Close()
		return fmt.Errorf("trajectory: flushing: %w", err)
	}
	if err := tw.f.Close(); err != nil {
		return fmt.Errorf("trajectory: closing: %w", err)
	}
	return nil
}

// quaternion converts a rotation matrix to (x, y, z, w) using Shepperd's
// branch selection for numerical stability.
func quaternion(r [3][3]float64) (x, y, z, w float64) {
	tr := r[0][0] + r[1][1] + r[2][2]
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		w = s / 4
		x = (r[2][1] - r[1][2]) / s
		y = (r[0][2] - r[2][0]) / s
		z = (r[1][0] - r[0][1]) / s
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := math.Sqrt(1+r[0][0]-r[1][1]-r[2][2]) * 2
		w = (r[2][1] - r[1][2]) / s
		x = s / 4
		y = (r[0][1] + r[1][0]) / s
		z = (r[0][2] + r[2][0]) / s
	case r[1][1] > r[2][2]:
		s := math.Sqrt(1+r[1][1]-r[0][0]-r[2][2]) * 2
		w = (r[0][2] - r[2][0]) / s
		x = (r[0][1] + r[1][0]) / s
		y = s / 4
		z = (r[1][2] + r[2][1]) / s
	default:
		s := math.Sqrt(1+r[2][2]-r[0][0]-r[1][1]) * 2
		w = (r[1][0] - r[0][1]) / s
		x = (r[0][2] + r[2][0]) / s
		y = (r[1][2] + r[2][1]) / s
		z = s / 4
	}
	return x, y, z, w
}
