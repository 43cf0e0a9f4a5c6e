// Package dataset iterates TUM-style RGB-D sequences: an associations file
// pairing RGB and depth images by timestamp, RGB frames decoded to float
// intensities, and 16-bit depth PNGs scaled to meters.
package dataset

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/dvo/internal/imgproc"
)

// DefaultDepthScale converts TUM 16-bit depth values to meters.
const DefaultDepthScale = 5000

// Frame is one associated gray+depth pair.
type Frame struct {
	Timestamp float64
	Width     int
	Height    int
	Gray      []float32 // intensities in [0, 1]
	Depth     []float32 // meters, 0 = invalid
}

type association struct {
	timestamp float64
	rgbPath   string
	depthPath string
}

// Sequence reads associated frames in file order.
type Sequence struct {
	dir        string
	depthScale float64
	assocs     []association
	next       int
}

// Open parses the associations file of a sequence directory. Each
// non-comment line has the TUM layout:
//
//	rgb_timestamp rgb_path depth_timestamp depth_path
//
// Paths are resolved relative to dir.
func Open(dir, associations string, depthScale float64) (*Sequence, error) {
	if depthScale <= 0 {
		depthScale = DefaultDepthScale
	}
	path := associations
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	f, err := os.Open(path) //nolint:gosec // G304: reading a user-provided dataset path is expected
	if err != nil {
		return nil, fmt.Errorf("dataset: opening associations: %w", err)
	}
	defer func() { _ = f.Close() }()

	var assocs []association
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 4 {
			return nil, fmt.Errorf("dataset: %s:%d: expected 4 fields, got %d", path, line, len(fields))
		}
		ts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("dataset: %s:%d: bad timestamp: %w", path, line, err)
		}
		assocs = append(assocs, association{
			timestamp: ts,
			rgbPath:   filepath.Join(dir, fields[1]),
			depthPath: filepath.Join(dir, fields[3]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: reading associations: %w", err)
	}
	if len(assocs) == 0 {
		return nil, fmt.Errorf("dataset: no frame pairs in %s", path)
	}
	return &Sequence{dir: dir, depthScale: depthScale, assocs: assocs}, nil
}

// Len returns the number of associated frame pairs.
func (s *Sequence) Len() int {
	return len(s.assocs)
}

// Next loads and returns the next frame, or io.EOF after the last one.
func (s *Sequence) Next() (*Frame, error) {
	if s.next >= len(s.assocs) {
		return nil, io.EOF
	}
	a := s.assocs[s.next]
	s.next++

	gray, gw, gh, err := loadGray(a.rgbPath)
	if err != nil {
		return nil, err
	}
	depth, dw, dh, err := loadDepth(a.depthPath, s.depthScale)
	if err != nil {
		return nil, err
	}
	if gw != dw || gh != dh {
		return nil, fmt.Errorf("dataset: frame %v: gray %dx%d does not match depth %dx%d",
			a.timestamp, gw, gh, dw, dh)
	}
	return &Frame{Timestamp: a.timestamp, Width: gw, Height: gh, Gray: gray, Depth: depth}, nil
}

func loadGray(path string) ([]float32, int, int, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("dataset: decoding %s: %w", path, err)
	}
	gray, w, h, err := imgproc.GrayFloats(img)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("dataset: converting %s: %w", path, err)
	}
	return gray, w, h, nil
}

// loadDepth decodes a 16-bit grayscale depth PNG; raw values divide by the
// depth scale to give meters, raw 0 stays 0 (invalid).
func loadDepth(path string, scale float64) ([]float32, int, int, error) {
	f, err := os.Open(path) //nolint:gosec // G304: reading a user-provided dataset path is expected
	if err != nil {
		return nil, 0, 0, fmt.Errorf("dataset: opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	img, err := png.Decode(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("dataset: decoding %s: %w", path, err)
	}
	g16, ok := img.(*image.Gray16)
	if !ok {
		return nil, 0, 0, fmt.Errorf("dataset: %s: depth must be 16-bit grayscale PNG, got %T", path, img)
	}
	b := g16.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, w*h)
	inv := float32(1 / scale)
	for y := range h {
		for x := range w {
			row := g16.Pix[y*g16.Stride+x*2:]
			raw := uint16(row[0])<<8 | uint16(row[1])
			out[y*w+x] = float32(raw) * inv
		}
	}
	return out, w, h, nil
}
