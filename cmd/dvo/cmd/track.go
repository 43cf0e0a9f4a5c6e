package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/dvo/internal/common"
	"github.com/MeKo-Tech/dvo/internal/dataset"
	"github.com/MeKo-Tech/dvo/internal/stream"
	"github.com/MeKo-Tech/dvo/internal/tracker"
	"github.com/MeKo-Tech/dvo/internal/trajectory"
	"github.com/MeKo-Tech/dvo/internal/visualize"
)

var trackCmd = &cobra.Command{
	Use:   "track <dataset-dir>",
	Short: "Run visual odometry over an RGB-D sequence",
	Long: `Track aligns every consecutive frame pair of a TUM-style RGB-D sequence
and writes the accumulated trajectory in TUM format.

The sequence directory must contain an associations file pairing RGB and
depth images by timestamp. Camera intrinsics come from the config file or
the --fx/--fy/--cx/--cy flags.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)

	trackCmd.Flags().String("associations", "associations.txt", "associations file, relative to the dataset dir")
	trackCmd.Flags().Float64("depth-scale", dataset.DefaultDepthScale, "raw depth units per meter")
	trackCmd.Flags().Int("max-frames", 0, "stop after this many frames (0 = all)")
	trackCmd.Flags().Float64("fx", 0, "focal length x (pixels)")
	trackCmd.Flags().Float64("fy", 0, "focal length y (pixels)")
	trackCmd.Flags().Float64("cx", 0, "principal point x (pixels)")
	trackCmd.Flags().Float64("cy", 0, "principal point y (pixels)")
	trackCmd.Flags().Int("min-level", 0, "finest pyramid level used")
	trackCmd.Flags().Int("max-level", tracker.DefaultMaxLevel, "coarsest pyramid level used")
	trackCmd.Flags().Int("max-iterations", tracker.DefaultMaxIterations, "Gauss-Newton iterations per level")
	trackCmd.Flags().Bool("tdist-weights", true, "use Student-t robust weighting")
	trackCmd.Flags().String("trajectory", "trajectory.txt", "trajectory output file")
	trackCmd.Flags().String("debug-dir", "", "write per-level residual/weight maps to this directory")
	trackCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address (e.g. :9100)")
	trackCmd.Flags().String("stream-addr", "", "serve live pose updates over WebSocket on this address")

	_ = viper.BindPFlag("dataset.associations", trackCmd.Flags().Lookup("associations"))
	_ = viper.BindPFlag("dataset.depth_scale", trackCmd.Flags().Lookup("depth-scale"))
	_ = viper.BindPFlag("dataset.max_frames", trackCmd.Flags().Lookup("max-frames"))
	_ = viper.BindPFlag("camera.fx", trackCmd.Flags().Lookup("fx"))
	_ = viper.BindPFlag("camera.fy", trackCmd.Flags().Lookup("fy"))
	_ = viper.BindPFlag("camera.cx", trackCmd.Flags().Lookup("cx"))
	_ = viper.BindPFlag("camera.cy", trackCmd.Flags().Lookup("cy"))
	_ = viper.BindPFlag("tracker.min_level", trackCmd.Flags().Lookup("min-level"))
	_ = viper.BindPFlag("tracker.max_level", trackCmd.Flags().Lookup("max-level"))
	_ = viper.BindPFlag("tracker.max_iterations_per_level", trackCmd.Flags().Lookup("max-iterations"))
	_ = viper.BindPFlag("tracker.use_tdist_weights", trackCmd.Flags().Lookup("tdist-weights"))
	_ = viper.BindPFlag("output.trajectory", trackCmd.Flags().Lookup("trajectory"))
	_ = viper.BindPFlag("output.debug_dir", trackCmd.Flags().Lookup("debug-dir"))
	_ = viper.BindPFlag("metrics.addr", trackCmd.Flags().Lookup("metrics-addr"))
	_ = viper.BindPFlag("stream.addr", trackCmd.Flags().Lookup("stream-addr"))
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	// Re-unmarshal so the just-bound track flags are visible.
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	cfg.Dataset.Dir = args[0]
	if err := cfg.Validate(); err != nil {
		return err
	}

	seq, err := dataset.Open(cfg.Dataset.Dir, cfg.Dataset.Associations, cfg.Dataset.DepthScale)
	if err != nil {
		return err
	}
	slog.Info("opened sequence", "dir", cfg.Dataset.Dir, "frames", seq.Len())

	first, err := seq.Next()
	if err != nil {
		return fmt.Errorf("loading first frame: %w", err)
	}

	tc := cfg.TrackerConfigFor(first.Width, first.Height)
	if cfg.Output.DebugDir != "" {
		tc.DebugHook = debugHook(cfg.Output.DebugDir)
	}
	trk, err := tracker.New(first.Gray, first.Depth, tc)
	if err != nil {
		return err
	}

	tw, err := trajectory.NewWriter(cfg.Output.Trajectory)
	if err != nil {
		return err
	}
	defer func() {
		if err := tw.Close(); err != nil {
			slog.Error("closing trajectory writer", "error", err)
		}
	}()
	// The first frame is the reference: identity pose.
	if err := tw.Append(first.Timestamp, trk.Pose()); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	var bc *stream.Broadcaster
	if cfg.Stream.Addr != "" {
		bc = stream.NewBroadcaster(cfg.Stream.Addr)
		bc.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := bc.Close(ctx); err != nil {
				slog.Error("closing pose stream", "error", err)
			}
		}()
	}

	frames := 0
	for {
		if cfg.Dataset.MaxFrames > 0 && frames >= cfg.Dataset.MaxFrames {
			break
		}
		frame, err := seq.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		timer := common.NewNamedTimer("align")
		pose, status := trk.Align(frame.Gray, frame.Depth)
		timer.Stop()
		frames++

		slog.Debug("aligned frame",
			"frame", frames,
			"timestamp", frame.Timestamp,
			"status", status.String(),
			"duration", timer.Duration(),
		)
		if status == tracker.StatusNumericalFailure {
			slog.Warn("alignment failed numerically, pose reset", "frame", frames)
		}

		if err := tw.Append(frame.Timestamp, pose); err != nil {
			return err
		}
		if bc != nil {
			bc.Publish(stream.PoseUpdate{
				Frame:     frames,
				Timestamp: frame.Timestamp,
				Twist:     pose,
				Status:    status.String(),
			})
		}
	}

	slog.Info("sequence done", "frames", frames, "trajectory", cfg.Output.Trajectory)
	return nil
}

// debugHook writes residual and weight maps per level; files are
// overwritten each frame, which is enough for eyeballing convergence.
func debugHook(dir string) func(tracker.LevelStats) {
	return func(st tracker.LevelStats) {
		scale := 1 << st.Level
		rPath := filepath.Join(dir, fmt.Sprintf("residual_l%d.png", st.Level))
		if err := visualize.SaveMap(st.Residuals, st.Width, st.Height, scale, rPath); err != nil {
			slog.Error("writing residual map", "error", err)
		}
		wPath := filepath.Join(dir, fmt.Sprintf("weights_l%d.png", st.Level))
		if err := visualize.SaveMap(st.Weights, st.Width, st.Height, scale, wPath); err != nil {
			slog.Error("writing weight map", "error", err)
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server stopped", "error", err)
	}
}
