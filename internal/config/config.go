// Package config loads and validates the dvo configuration from files,
// environment variables, and flags.
package config

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/dvo/internal/camera"
	"github.com/MeKo-Tech/dvo/internal/tracker"
)

// Intrinsics converts the camera section into the tracker's intrinsics.
func (cc CameraConfig) Intrinsics() camera.Intrinsics {
	return camera.Intrinsics{Fx: cc.Fx, Fy: cc.Fy, Cx: cc.Cx, Cy: cc.Cy}
}

// SolvingMethodGaussNewton is the only contracted solver; the other tags
// are accepted by the schema but rejected by Validate.
const SolvingMethodGaussNewton = "gauss-newton"

// Default returns the built-in defaults, matching the tracker's own.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Tracker: TrackerConfig{
			MinLevel:              0,
			MaxLevel:              tracker.DefaultMaxLevel,
			MaxIterationsPerLevel: tracker.DefaultMaxIterations,
			UseTDistWeights:       true,
			TDistDoF:              tracker.DefaultTDistDoF,
			ScaleInitial:          tracker.DefaultScaleInitial,
			ConvergenceRatio:      tracker.DefaultConvergenceRatio,
			SolvingMethod:         SolvingMethodGaussNewton,
		},
		Dataset: DatasetConfig{
			Associations: "associations.txt",
			DepthScale:   5000,
		},
		Output: OutputConfig{
			Trajectory: "trajectory.txt",
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	t := c.Tracker
	if t.MinLevel < 0 || t.MaxLevel < t.MinLevel {
		return fmt.Errorf("config: invalid level range [%d, %d]", t.MinLevel, t.MaxLevel)
	}
	if t.MaxIterationsPerLevel < 1 {
		return fmt.Errorf("config: max_iterations_per_level must be >= 1, got %d", t.MaxIterationsPerLevel)
	}
	if t.UseTDistWeights {
		if t.TDistDoF <= 0 {
			return fmt.Errorf("config: tdist_dof must be positive, got %v", t.TDistDoF)
		}
		if t.ScaleInitial <= 0 {
			return fmt.Errorf("config: scale_initial must be positive, got %v", t.ScaleInitial)
		}
	}
	if t.ConvergenceRatio <= 0 || t.ConvergenceRatio >= 1 {
		return fmt.Errorf("config: convergence_ratio must be in (0, 1), got %v", t.ConvergenceRatio)
	}
	if t.SolvingMethod != SolvingMethodGaussNewton {
		return fmt.Errorf("config: solving_method %q is reserved; only %q is implemented",
			t.SolvingMethod, SolvingMethodGaussNewton)
	}
	if c.Camera.Fx == 0 || c.Camera.Fy == 0 {
		return errors.New("config: camera focal lengths must be set and non-zero")
	}
	if c.Dataset.DepthScale <= 0 {
		return fmt.Errorf("config: depth_scale must be positive, got %v", c.Dataset.DepthScale)
	}
	return nil
}

// TrackerConfigFor converts the file-level settings into a tracker.Config
// for a frame of the given size.
func (c *Config) TrackerConfigFor(width, height int) tracker.Config {
	tc := tracker.DefaultConfig(width, height, c.Camera.Intrinsics())
	tc.MinLevel = c.Tracker.MinLevel
	tc.MaxLevel = c.Tracker.MaxLevel
	tc.MaxIterationsPerLevel = c.Tracker.MaxIterationsPerLevel
	tc.ConvergenceRatio = c.Tracker.ConvergenceRatio
	if c.Tracker.Workers > 0 {
		tc.Workers = c.Tracker.Workers
	}
	if c.Tracker.UseTDistWeights {
		tc.Weighting = tracker.StudentTWeights(c.Tracker.TDistDoF, c.Tracker.ScaleInitial)
	} else {
		tc.Weighting = tracker.UniformWeights()
	}
	return tc
}
