package cmd

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, path string, depth16 bool) {
	t.Helper()
	const size = 16
	if depth16 {
		img := image.NewGray16(image.Rect(0, 0, size, size))
		for y := range size {
			for x := range size {
				img.SetGray16(x, y, color.Gray16{Y: 5000})
			}
		}
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
		return
	}
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			img.SetGray(x, y, color.Gray{Y: uint8(8 + 12*x + 5*y)})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func writeTestSequence(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "rgb.png"), false)
	writeTestPNG(t, filepath.Join(dir, "depth.png"), true)
	assoc := "# rgb depth pairs\n" +
		"1.0 rgb.png 1.0 depth.png\n" +
		"2.0 rgb.png 2.0 depth.png\n" +
		"3.0 rgb.png 3.0 depth.png\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "associations.txt"), []byte(assoc), 0o644))
	return dir
}

func TestTrack_RunsSequenceAndWritesTrajectory(t *testing.T) {
	dir := writeTestSequence(t)
	out := filepath.Join(t.TempDir(), "trajectory.txt")

	cmd := GetRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{
		"track", dir,
		"--fx", "20", "--fy", "20", "--cx", "7.5", "--cy", "7.5",
		"--max-level", "1",
		"--trajectory", out,
	})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// One pose per frame, first frame included as the identity reference.
	assert.Len(t, lines, 3)
	for _, line := range lines {
		assert.Len(t, strings.Fields(line), 8)
	}
}

func TestTrack_MissingDatasetFails(t *testing.T) {
	cmd := GetRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"track", filepath.Join(t.TempDir(), "missing"),
		"--fx", "20", "--fy", "20", "--cx", "7.5", "--cy", "7.5",
	})
	assert.Error(t, cmd.Execute())
}
