package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGrayPNG(t *testing.T, path string, w, h int, value uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func writeDepthPNG(t *testing.T, path string, w, h int, raw uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetGray16(x, y, color.Gray16{Y: raw})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func writeSequence(t *testing.T, frames int) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rgb"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "depth"), 0o755))

	assoc := "# timestamp rgb timestamp depth\n"
	for i := range frames {
		rgb := filepath.Join("rgb", "frame.png")
		depth := filepath.Join("depth", "frame.png")
		if i == 0 {
			writeGrayPNG(t, filepath.Join(dir, rgb), 8, 4, 128)
			writeDepthPNG(t, filepath.Join(dir, depth), 8, 4, 5000)
		}
		assoc += "1311868164." + string(rune('0'+i)) + " " + rgb + " 1311868164." + string(rune('0'+i)) + " " + depth + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "associations.txt"), []byte(assoc), 0o644))
	return dir
}

func TestOpen_ParsesAssociations(t *testing.T) {
	dir := writeSequence(t, 3)
	seq, err := Open(dir, "associations.txt", DefaultDepthScale)
	require.NoError(t, err)
	assert.Equal(t, 3, seq.Len())
}

func TestNext_LoadsFrames(t *testing.T) {
	dir := writeSequence(t, 2)
	seq, err := Open(dir, "associations.txt", DefaultDepthScale)
	require.NoError(t, err)

	frame, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, 8, frame.Width)
	assert.Equal(t, 4, frame.Height)
	assert.Len(t, frame.Gray, 32)
	assert.Len(t, frame.Depth, 32)
	assert.InDelta(t, 128.0/255, float64(frame.Gray[0]), 0.01)
	// Raw 5000 at scale 5000 is one meter.
	assert.InDelta(t, 1.0, float64(frame.Depth[0]), 1e-6)
	assert.InDelta(t, 1311868164.0, frame.Timestamp, 0.5)
}

func TestNext_EOFAfterLastFrame(t *testing.T) {
	dir := writeSequence(t, 1)
	seq, err := Open(dir, "associations.txt", DefaultDepthScale)
	require.NoError(t, err)

	_, err = seq.Next()
	require.NoError(t, err)
	_, err = seq.Next()
	assert.ErrorContains(t, err, "EOF")
}

func TestOpen_MissingAssociations(t *testing.T) {
	_, err := Open(t.TempDir(), "associations.txt", DefaultDepthScale)
	assert.Error(t, err)
}

func TestOpen_MalformedLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "associations.txt"),
		[]byte("1.0 rgb/a.png 1.0\n"), 0o644))
	_, err := Open(dir, "associations.txt", DefaultDepthScale)
	assert.ErrorContains(t, err, "expected 4 fields")
}

func TestOpen_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "associations.txt"),
		[]byte("# only comments\n"), 0o644))
	_, err := Open(dir, "associations.txt", DefaultDepthScale)
	assert.ErrorContains(t, err, "no frame pairs")
}

func TestNext_RejectsEightBitDepth(t *testing.T) {
	dir := t.TempDir()
	writeGrayPNG(t, filepath.Join(dir, "rgb.png"), 4, 4, 100)
	writeGrayPNG(t, filepath.Join(dir, "depth.png"), 4, 4, 100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "associations.txt"),
		[]byte("1.0 rgb.png 1.0 depth.png\n"), 0o644))

	seq, err := Open(dir, "associations.txt", DefaultDepthScale)
	require.NoError(t, err)
	_, err = seq.Next()
	assert.ErrorContains(t, err, "16-bit")
}
