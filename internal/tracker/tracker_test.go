package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/dvo/internal/camera"
	"github.com/MeKo-Tech/dvo/internal/lie"
	"github.com/MeKo-Tech/dvo/internal/testutil"
)

const (
	testSize  = 64
	testDepth = 1.0
)

func testIntrinsics() camera.Intrinsics {
	// Principal point at the image centre, as in the synthetic scenarios.
	return camera.Intrinsics{Fx: 50, Fy: 50, Cx: (testSize - 1) / 2.0, Cy: (testSize - 1) / 2.0}
}

func testConfig(maxLevel int) Config {
	cfg := DefaultConfig(testSize, testSize, testIntrinsics())
	cfg.MaxLevel = maxLevel
	cfg.Workers = 2
	return cfg
}

// frameTwist undoes the trajectory accumulation of the first Align call:
// with xi_total starting at zero, the returned pose is exp(xi)^-1, so the
// frame twist is its negation on the manifold.
func frameTwist(pose lie.Twist) lie.Twist {
	return lie.Log(lie.Inverse(lie.Exp(pose)))
}

// warpPoint applies the estimated frame twist to the pixel (x, y) at depth
// d and returns its reprojection, for displacement-based assertions that
// do not depend on how translation and rotation split the motion.
func warpPoint(xi lie.Twist, in camera.Intrinsics, x, y, d float64) (u, v float64) {
	r, tr := lie.RotationTranslation(lie.Exp(xi))
	px := (x - in.Cx) * d / in.Fx
	py := (y - in.Cy) * d / in.Fy
	pz := d
	qx := r[0][0]*px + r[0][1]*py + r[0][2]*pz + tr[0]
	qy := r[1][0]*px + r[1][1]*py + r[1][2]*pz + tr[1]
	qz := r[2][0]*px + r[2][1]*py + r[2][2]*pz + tr[2]
	return in.Fx*qx/qz + in.Cx, in.Fy*qy/qz + in.Cy
}

func TestAlign_IdenticalFramesGiveZeroPose(t *testing.T) {
	gray := testutil.SmoothFrame(testSize, testSize)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)

	trk, err := New(gray, depth, testConfig(2))
	require.NoError(t, err)

	pose, status := trk.Align(gray, depth)
	assert.Equal(t, StatusOK, status)
	assert.Less(t, pose.Norm(), 1e-4)
}

func TestAlign_PureTranslationRecovered(t *testing.T) {
	prev := testutil.SmoothFrame(testSize, testSize)
	cur := testutil.ShiftedFrame(testSize, testSize, 1, 0)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)

	trk, err := New(prev, depth, testConfig(2))
	require.NoError(t, err)

	pose, status := trk.Align(cur, depth)
	require.NotEqual(t, StatusNumericalFailure, status)
	xi := frameTwist(pose)

	// Content shifted one pixel right: the warp must move the centre
	// pixel by (+1, 0).
	c := (testSize - 1) / 2.0
	u, v := warpPoint(xi, testIntrinsics(), c, c, testDepth)
	assert.InDelta(t, c+1, u, 0.35, "horizontal displacement")
	assert.InDelta(t, c, v, 0.35, "vertical displacement")

	// The dominant translation component matches t_x = z / fx.
	assert.InDelta(t, testDepth/50, xi[0], 0.01)
}

func TestAlign_SmallRotationRecovered(t *testing.T) {
	const theta = 0.01
	c := (testSize - 1) / 2.0
	prev := testutil.SmoothFrame(testSize, testSize)
	cur := testutil.RotatedFrame(testSize, testSize, theta, c, c)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)

	trk, err := New(prev, depth, testConfig(1))
	require.NoError(t, err)

	pose, status := trk.Align(cur, depth)
	require.NotEqual(t, StatusNumericalFailure, status)
	xi := frameTwist(pose)

	assert.InDelta(t, theta, math.Abs(xi[5]), theta*0.10, "roll magnitude")
	assert.Less(t, math.Abs(xi[3]), 0.003, "pitch stays small")
	assert.Less(t, math.Abs(xi[4]), 0.003, "yaw stays small")
}

func TestAlign_MostlyInvalidDepthStaysFinite(t *testing.T) {
	prev := testutil.SmoothFrame(testSize, testSize)
	cur := testutil.ShiftedFrame(testSize, testSize, 0.5, 0)
	depth := make([]float32, testSize*testSize)
	for i := range depth {
		if i%10 == 0 {
			depth[i] = testDepth
		}
	}

	trk, err := New(prev, depth, testConfig(2))
	require.NoError(t, err)

	pose, status := trk.Align(cur, depth)
	assert.NotEqual(t, StatusInvalidInput, status)
	assert.True(t, pose.IsFinite())
}

func TestAlign_MultiLevelConvergesOnLargeShift(t *testing.T) {
	prev := testutil.SmoothFrame(testSize, testSize)
	cur := testutil.ShiftedFrame(testSize, testSize, 10, 0)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)

	trk, err := New(prev, depth, testConfig(3))
	require.NoError(t, err)

	pose, status := trk.Align(cur, depth)
	require.NotEqual(t, StatusNumericalFailure, status)
	xi := frameTwist(pose)

	c := (testSize - 1) / 2.0
	u, v := warpPoint(xi, testIntrinsics(), c, c, testDepth)
	assert.InDelta(t, c+10, u, 1.5, "multi-level recovers a 10-pixel shift")
	assert.InDelta(t, c, v, 1.5)
}

func TestAlign_TDistWeightsBeatUniformUnderOutliers(t *testing.T) {
	prev := testutil.SmoothFrame(testSize, testSize)
	cur := testutil.ShiftedFrame(testSize, testSize, 1, 0)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)

	// Salt noise biased to the left half so unweighted least squares
	// drags the estimate measurably.
	corrupted := make([]float32, len(cur))
	copy(corrupted, cur)
	for y := 0; y < testSize; y++ {
		for x := 0; x < testSize/2; x++ {
			if (x+y)%11 == 0 {
				corrupted[y*testSize+x] = 1.0
			}
		}
	}

	displacementError := func(weighting Weighting) float64 {
		cfg := testConfig(2)
		cfg.Weighting = weighting
		trk, err := New(prev, depth, cfg)
		require.NoError(t, err)
		pose, status := trk.Align(corrupted, depth)
		require.NotEqual(t, StatusNumericalFailure, status)
		xi := frameTwist(pose)
		c := (testSize - 1) / 2.0
		u, v := warpPoint(xi, testIntrinsics(), c, c, testDepth)
		return math.Hypot(u-(c+1), v-c)
	}

	uniformErr := displacementError(UniformWeights())
	tdistErr := displacementError(StudentTWeights(DefaultTDistDoF, DefaultScaleInitial))
	assert.Less(t, tdistErr, uniformErr,
		"robust weighting must beat uniform under salt noise (tdist=%v uniform=%v)", tdistErr, uniformErr)
}

func TestAlign_InvalidDepthPixelsContributeNothing(t *testing.T) {
	prev := testutil.SmoothFrame(testSize, testSize)
	cur := testutil.ShiftedFrame(testSize, testSize, 0.5, 0.5)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)
	holes := []int{0, 77, 1000, 2049, testSize*testSize - 1}
	for _, i := range holes {
		depth[i] = 0
	}

	trk, err := New(prev, depth, testConfig(0))
	require.NoError(t, err)
	_, status := trk.Align(cur, testutil.ConstantDepth(testSize, testSize, testDepth))
	require.NotEqual(t, StatusNumericalFailure, status)

	// The buffers still hold the finest level of the just-finished
	// alignment, whose previous-frame depth had the holes.
	for _, i := range holes {
		assert.Equal(t, float32(0), trk.r[i], "residual at hole %d", i)
		assert.Equal(t, float32(0), trk.w[i], "weight at hole %d", i)
		for k := range 6 {
			assert.Equal(t, float32(0), trk.j[i*6+k], "jacobian %d at hole %d", k, i)
		}
	}
}

func TestAlign_InverseConsistency(t *testing.T) {
	a := testutil.SmoothFrame(testSize, testSize)
	b := testutil.ShiftedFrame(testSize, testSize, 1, 0.5)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)

	trkAB, err := New(a, depth, testConfig(2))
	require.NoError(t, err)
	poseAB, stAB := trkAB.Align(b, depth)
	require.NotEqual(t, StatusNumericalFailure, stAB)

	trkBA, err := New(b, depth, testConfig(2))
	require.NoError(t, err)
	poseBA, stBA := trkBA.Align(a, depth)
	require.NotEqual(t, StatusNumericalFailure, stBA)

	prod := lie.Compose(lie.Exp(frameTwist(poseAB)), lie.Exp(frameTwist(poseBA)))
	residual := lie.Log(prod)
	assert.Less(t, residual.Norm(), 1e-2, "forward and backward alignments must cancel")
}

func TestAlign_WrongShapeIsRejected(t *testing.T) {
	gray := testutil.SmoothFrame(testSize, testSize)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)
	trk, err := New(gray, depth, testConfig(1))
	require.NoError(t, err)

	_, status := trk.Align(gray[:10], depth)
	assert.Equal(t, StatusInvalidInput, status)
	_, status = trk.Align(gray, depth[:10])
	assert.Equal(t, StatusInvalidInput, status)
}

func TestAlign_DebugHookSeesEveryLevel(t *testing.T) {
	gray := testutil.SmoothFrame(testSize, testSize)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)
	cfg := testConfig(2)
	var levels []int
	cfg.DebugHook = func(st LevelStats) {
		levels = append(levels, st.Level)
		assert.Equal(t, testSize>>st.Level, st.Width)
		assert.Len(t, st.Residuals, st.Width*st.Height)
		assert.Len(t, st.Weights, st.Width*st.Height)
		assert.GreaterOrEqual(t, st.Iterations, 1)
	}
	trk, err := New(gray, depth, cfg)
	require.NoError(t, err)
	_, _ = trk.Align(gray, depth)
	assert.Equal(t, []int{2, 1, 0}, levels)
}

func TestAlign_PoseAccumulatesAcrossFrames(t *testing.T) {
	f0 := testutil.SmoothFrame(testSize, testSize)
	f1 := testutil.ShiftedFrame(testSize, testSize, 1, 0)
	f2 := testutil.ShiftedFrame(testSize, testSize, 2, 0)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)

	trk, err := New(f0, depth, testConfig(2))
	require.NoError(t, err)

	pose1, st1 := trk.Align(f1, depth)
	require.NotEqual(t, StatusNumericalFailure, st1)
	pose2, st2 := trk.Align(f2, depth)
	require.NotEqual(t, StatusNumericalFailure, st2)
	assert.Equal(t, pose2, trk.Pose())

	// Two one-pixel steps accumulate to roughly twice one step.
	assert.InDelta(t, 2*pose1[0], pose2[0], math.Abs(pose1[0])*0.5+1e-3)
}

func TestNew_Validation(t *testing.T) {
	gray := testutil.SmoothFrame(testSize, testSize)
	depth := testutil.ConstantDepth(testSize, testSize, testDepth)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero size", func(c *Config) { c.Width = 0 }},
		{"indivisible size", func(c *Config) { c.MaxLevel = 7 }},
		{"min above max", func(c *Config) { c.MinLevel = 3; c.MaxLevel = 1 }},
		{"no iterations", func(c *Config) { c.MaxIterationsPerLevel = 0 }},
		{"zero focal", func(c *Config) { c.Intrinsics.Fx = 0 }},
		{"reserved solver", func(c *Config) { c.Method = LevenbergMarquardt }},
		{"bad dof", func(c *Config) { c.Weighting = StudentTWeights(0, DefaultScaleInitial) }},
		{"bad scale", func(c *Config) { c.Weighting = StudentTWeights(DefaultTDistDoF, 0) }},
		{"bad ratio", func(c *Config) { c.ConvergenceRatio = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(2)
			tc.mutate(&cfg)
			_, err := New(gray, depth, cfg)
			assert.Error(t, err)
		})
	}

	t.Run("short first frame", func(t *testing.T) {
		_, err := New(gray[:5], depth, testConfig(2))
		assert.Error(t, err)
	})
}
