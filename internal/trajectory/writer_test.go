package trajectory

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/dvo/internal/lie"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestWriter_IdentityPose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectory.txt")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(1311868164.363181, lie.Twist{}))
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	fields := strings.Fields(lines[0])
	require.Len(t, fields, 8)
	assert.Equal(t, "1311868164.363181", fields[0])
	for _, f := range fields[1:7] {
		v, err := strconv.ParseFloat(f, 64)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, v, 1e-9)
	}
	qw, err := strconv.ParseFloat(fields[7], 64)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, qw, 1e-9)
}

func TestWriter_QuaternionIsUnit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectory.txt")
	w, err := NewWriter(path)
	require.NoError(t, err)
	twists := []lie.Twist{
		{0.1, 0.2, 0.3, 0.4, -0.2, 0.1},
		{0, 0, 0, 3.0, 0, 0},
		{0, 0, 0, 0, 2.2, 2.0},
		{1, 2, 3, 0, 0, 0.001},
	}
	for i, xi := range twists {
		require.NoError(t, w.Append(float64(i), xi))
	}
	require.NoError(t, w.Close())

	for _, line := range readLines(t, path) {
		fields := strings.Fields(line)
		require.Len(t, fields, 8)
		sum := 0.0
		for _, f := range fields[4:] {
			v, err := strconv.ParseFloat(f, 64)
			require.NoError(t, err)
			sum += v * v
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "quaternion norm for %q", line)
	}
}

func TestWriter_TranslationMatchesExp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectory.txt")
	w, err := NewWriter(path)
	require.NoError(t, err)
	xi := lie.Twist{0.5, -0.25, 0.125, 0, 0, 0}
	require.NoError(t, w.Append(0, xi))
	require.NoError(t, w.Close())

	fields := strings.Fields(readLines(t, path)[0])
	tx, _ := strconv.ParseFloat(fields[1], 64)
	ty, _ := strconv.ParseFloat(fields[2], 64)
	tz, _ := strconv.ParseFloat(fields[3], 64)
	assert.InDelta(t, 0.5, tx, 1e-6)
	assert.InDelta(t, -0.25, ty, 1e-6)
	assert.InDelta(t, 0.125, tz, 1e-6)
}

func TestNewWriter_BadPath(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "missing", "trajectory.txt"))
	assert.Error(t, err)
}

func TestQuaternion_KnownRotation(t *testing.T) {
	// 90 degrees about z.
	r := [3][3]float64{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}
	x, y, z, w := quaternion(r)
	assert.InDelta(t, 0.0, x, 1e-12)
	assert.InDelta(t, 0.0, y, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, z, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, w, 1e-12)
}
