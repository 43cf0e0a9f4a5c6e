// Package tracker implements dense RGB-D visual odometry: direct
// photometric alignment of consecutive gray+depth frames by Gauss-Newton
// iteration over a coarse-to-fine image pyramid, with Student-t robust
// weighting. A Tracker owns every buffer it touches and is constructed
// once per camera stream.
package tracker

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"time"

	"github.com/MeKo-Tech/dvo/internal/camera"
	"github.com/MeKo-Tech/dvo/internal/imgproc"
	"github.com/MeKo-Tech/dvo/internal/lie"
)

// Defaults used by DefaultConfig and the configuration layer.
const (
	DefaultMaxLevel         = 4
	DefaultMaxIterations    = 20
	DefaultConvergenceRatio = 0.995
	DefaultTDistDoF         = 5
	DefaultScaleInitial     = 6.25e-4
)

// Config fixes the tracker geometry and optimisation parameters at
// construction time.
type Config struct {
	Width  int
	Height int

	Intrinsics camera.Intrinsics

	// Pyramid levels used for alignment, coarse (MaxLevel) to fine
	// (MinLevel). Width and Height must be divisible by 2^MaxLevel.
	MinLevel int
	MaxLevel int

	MaxIterationsPerLevel int
	Method                SolveMethod
	Weighting             Weighting
	ConvergenceRatio      float64

	// Workers bounds the goroutines used by the per-pixel kernels.
	// Zero selects runtime.NumCPU().
	Workers int

	// DebugHook, when set, is called once per level after its iteration
	// loop with a snapshot of the level state. The slices alias tracker
	// buffers and must not be retained.
	DebugHook func(LevelStats)
}

// LevelStats is the per-level snapshot passed to the debug hook.
type LevelStats struct {
	Level       int
	Width       int
	Height      int
	Iterations  int
	Error       float64
	Variance    float64
	ValidPixels int
	Residuals   []float32
	Weights     []float32
}

// DefaultConfig mirrors the original tracker defaults: five levels,
// twenty iterations per level, Student-t weighting with five degrees of
// freedom.
func DefaultConfig(width, height int, in camera.Intrinsics) Config {
	return Config{
		Width:                 width,
		Height:                height,
		Intrinsics:            in,
		MinLevel:              0,
		MaxLevel:              DefaultMaxLevel,
		MaxIterationsPerLevel: DefaultMaxIterations,
		Method:                GaussNewton,
		Weighting:             StudentTWeights(DefaultTDistDoF, DefaultScaleInitial),
		ConvergenceRatio:      DefaultConvergenceRatio,
		Workers:               runtime.NumCPU(),
	}
}

// Tracker is the long-lived alignment state: the intrinsics pyramid, two
// frame pyramids swapped by handle after every call, and the image-sized
// scratch buffers reused by every iteration. Concurrent Align calls on one
// Tracker are not allowed.
type Tracker struct {
	cfg  Config
	kPyr []camera.Intrinsics
	kInv [][9]float64

	prev *imgproc.Pyramid
	cur  *imgproc.Pyramid

	// Warp scratch: transformed points and warped coordinates.
	xp, yp, zp []float32
	uw, vw     []float32

	// Per-pixel Jacobian rows (n x 6, row major), weights, residuals.
	j []float32
	w []float32
	r []float32

	// Level-local pose, carried across frames as the initial guess, and
	// the accumulated previous-frame pose in first-frame coordinates.
	xi      lie.Twist
	xiTotal lie.Twist
}

// New validates the configuration, allocates every buffer, and fills the
// previous-frame pyramid from the first gray+depth frame.
func New(gray, depth []float32, cfg Config) (*Tracker, error) {
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	n := cfg.Width * cfg.Height
	if len(gray) != n || len(depth) != n {
		return nil, fmt.Errorf("tracker: first frame buffers must have %d pixels, got gray=%d depth=%d",
			n, len(gray), len(depth))
	}

	prev, err := imgproc.NewPyramid(cfg.Width, cfg.Height, cfg.MaxLevel, cfg.Workers)
	if err != nil {
		return nil, err
	}
	cur, err := imgproc.NewPyramid(cfg.Width, cfg.Height, cfg.MaxLevel, cfg.Workers)
	if err != nil {
		return nil, err
	}

	kPyr := camera.Pyramid(cfg.Intrinsics, cfg.MaxLevel)
	kInv := make([][9]float64, len(kPyr))
	for l, k := range kPyr {
		kInv[l] = k.InverseMatrix()
	}

	t := &Tracker{
		cfg:  cfg,
		kPyr: kPyr,
		kInv: kInv,
		prev: prev,
		cur:  cur,
		xp:   make([]float32, n),
		yp:   make([]float32, n),
		zp:   make([]float32, n),
		uw:   make([]float32, n),
		vw:   make([]float32, n),
		j:    make([]float32, 6*n),
		w:    make([]float32, n),
		r:    make([]float32, n),
	}
	if err := t.prev.Fill(gray, depth); err != nil {
		return nil, err
	}
	return t, nil
}

func validate(cfg *Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("tracker: invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.MaxLevel < 0 || cfg.MinLevel < 0 || cfg.MinLevel > cfg.MaxLevel {
		return fmt.Errorf("tracker: invalid level range [%d, %d]", cfg.MinLevel, cfg.MaxLevel)
	}
	div := 1 << cfg.MaxLevel
	if cfg.Width%div != 0 || cfg.Height%div != 0 {
		return fmt.Errorf("tracker: %dx%d not divisible by 2^%d", cfg.Width, cfg.Height, cfg.MaxLevel)
	}
	if cfg.MaxIterationsPerLevel < 1 {
		return fmt.Errorf("tracker: maxIterationsPerLevel must be >= 1, got %d", cfg.MaxIterationsPerLevel)
	}
	if cfg.Intrinsics.Fx == 0 || cfg.Intrinsics.Fy == 0 {
		return errors.New("tracker: focal lengths must be non-zero")
	}
	if cfg.Method != GaussNewton {
		return errors.New("tracker: only the Gauss-Newton solver is implemented")
	}
	if cfg.Weighting.Kind == WeightStudentT {
		if cfg.Weighting.DoF <= 0 {
			return fmt.Errorf("tracker: Student-t degrees of freedom must be positive, got %v", cfg.Weighting.DoF)
		}
		if cfg.Weighting.ScaleInit <= 0 {
			return fmt.Errorf("tracker: initial scale must be positive, got %v", cfg.Weighting.ScaleInit)
		}
	}
	if cfg.ConvergenceRatio <= 0 || cfg.ConvergenceRatio >= 1 {
		return fmt.Errorf("tracker: convergence ratio must be in (0, 1), got %v", cfg.ConvergenceRatio)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return nil
}

// Pose returns the accumulated pose from the last Align call.
func (t *Tracker) Pose() lie.Twist {
	return t.xiTotal
}

// Align estimates the motion from the previous frame to the given current
// frame. It fills the current pyramid, runs the coarse-to-fine driver,
// swaps the pyramid handles, and folds the frame pose into the
// accumulated trajectory:
//
//	xi_total <- log(exp(xi_total) * exp(xi)^-1)
//
// so the returned twist is the previous-frame camera pose expressed in the
// first frame's coordinates. On numerical failure the sentinel zero twist
// is returned together with StatusNumericalFailure.
func (t *Tracker) Align(gray, depth []float32) (lie.Twist, Status) {
	n := t.cfg.Width * t.cfg.Height
	if len(gray) != n || len(depth) != n {
		return t.xiTotal, StatusInvalidInput
	}
	start := time.Now()
	defer func() {
		alignDuration.Observe(time.Since(start).Seconds())
	}()

	// Fill errors cannot occur past the length check above.
	_ = t.cur.Fill(gray, depth)

	status := StatusOK
	for level := t.cfg.MaxLevel; level >= t.cfg.MinLevel; level-- {
		if st := t.alignLevel(level); st != StatusOK {
			status = st
		}
	}

	if !t.xi.IsFinite() {
		t.xi = lie.Twist{}
		status = StatusNumericalFailure
	}

	// The just-processed frame becomes the previous frame for the next
	// call; only the handles move.
	t.prev, t.cur = t.cur, t.prev

	if status == StatusNumericalFailure {
		framesAlignedTotal.WithLabelValues(status.String()).Inc()
		return lie.Twist{}, status
	}

	t.xiTotal = lie.Log(lie.Compose(lie.Exp(t.xiTotal), lie.Inverse(lie.Exp(t.xi))))
	framesAlignedTotal.WithLabelValues(status.String()).Inc()
	return t.xiTotal, status
}

// alignLevel runs the inner Gauss-Newton loop at one pyramid level.
func (t *Tracker) alignLevel(level int) Status {
	lw := t.cfg.Width >> level
	lh := t.cfg.Height >> level
	n := lw * lh
	prevL := &t.prev.Levels[level]
	curL := &t.cur.Levels[level]
	k := t.kPyr[level]

	errPrev := math.Inf(1)
	variance := t.cfg.Weighting.ScaleInit
	e := 0.0
	nValid := 0
	degenerate := false
	iters := 0

	for it := 0; it < t.cfg.MaxIterationsPerLevel; it++ {
		iters++

		params := t.warpParamsFor(level)
		nValid = t.warp(prevL, params)
		if nValid == 0 {
			degenerate = true
			break
		}

		t.residuals(prevL, curL)
		e = t.reduceSumSquares(t.r, n) / float64(nValid)
		if math.IsNaN(e) || math.IsInf(e, 0) {
			degenerate = true
			break
		}

		t.jacobian(curL, float32(k.Fx), float32(k.Fy))
		variance = t.computeWeights(n, variance)

		a, b := t.reduceOuter(n)
		delta, ok := solveDelta(a, b)
		if ok {
			t.xi = applyDelta(t.xi, delta)
		} else {
			// Transient degeneracy: zero step, E_prev untouched, the
			// iteration budget keeps counting down.
			degenerate = true
		}

		if e == 0 || e/errPrev > t.cfg.ConvergenceRatio {
			break
		}
		if ok {
			errPrev = e
		}
	}

	levelIterations.WithLabelValues(strconv.Itoa(level)).Observe(float64(iters))
	if level == t.cfg.MinLevel {
		finalError.Observe(e)
	}
	if t.cfg.DebugHook != nil {
		t.cfg.DebugHook(LevelStats{
			Level:       level,
			Width:       lw,
			Height:      lh,
			Iterations:  iters,
			Error:       e,
			Variance:    variance,
			ValidPixels: nValid,
			Residuals:   t.r[:n],
			Weights:     t.w[:n],
		})
	}
	if degenerate {
		return StatusDegenerate
	}
	return StatusOK
}

// warpParamsFor fuses the current pose estimate with the level intrinsics:
// RK^-1 and t on the host, once per iteration.
func (t *Tracker) warpParamsFor(level int) warpParams {
	r, tr := lie.RotationTranslation(lie.Exp(t.xi))
	kinv := t.kInv[level]
	var p warpParams
	for i := range 3 {
		for j := range 3 {
			s := 0.0
			for m := range 3 {
				s += r[i][m] * kinv[m*3+j]
			}
			p.rkInv[i*3+j] = float32(s)
		}
		p.t[i] = float32(tr[i])
	}
	k := t.kPyr[level]
	p.fx = float32(k.Fx)
	p.fy = float32(k.Fy)
	p.cx = float32(k.Cx)
	p.cy = float32(k.Cy)
	return p
}
