//nolint:lll
package config

// Config represents the complete configuration for the dvo application.
// It covers the tracker core, dataset input, trajectory output, and the
// optional metrics and streaming endpoints, and supports loading from
// configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Tracker    TrackerConfig    `mapstructure:"tracker" yaml:"tracker" json:"tracker"`
	Camera     CameraConfig     `mapstructure:"camera" yaml:"camera" json:"camera"`
	Dataset    DatasetConfig    `mapstructure:"dataset" yaml:"dataset" json:"dataset"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Stream     StreamConfig     `mapstructure:"stream" yaml:"stream" json:"stream"`
}

// TrackerConfig contains the alignment engine settings.
type TrackerConfig struct {
	MinLevel              int     `mapstructure:"min_level" yaml:"min_level" json:"min_level"`
	MaxLevel              int     `mapstructure:"max_level" yaml:"max_level" json:"max_level"`
	MaxIterationsPerLevel int     `mapstructure:"max_iterations_per_level" yaml:"max_iterations_per_level" json:"max_iterations_per_level"`
	UseTDistWeights       bool    `mapstructure:"use_tdist_weights" yaml:"use_tdist_weights" json:"use_tdist_weights"`
	TDistDoF              float64 `mapstructure:"tdist_dof" yaml:"tdist_dof" json:"tdist_dof"`
	ScaleInitial          float64 `mapstructure:"scale_initial" yaml:"scale_initial" json:"scale_initial"`
	ConvergenceRatio      float64 `mapstructure:"convergence_ratio" yaml:"convergence_ratio" json:"convergence_ratio"`
	SolvingMethod         string  `mapstructure:"solving_method" yaml:"solving_method" json:"solving_method"`
	Workers               int     `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// CameraConfig holds the pinhole intrinsics of the input sequence.
type CameraConfig struct {
	Fx float64 `mapstructure:"fx" yaml:"fx" json:"fx"`
	Fy float64 `mapstructure:"fy" yaml:"fy" json:"fy"`
	Cx float64 `mapstructure:"cx" yaml:"cx" json:"cx"`
	Cy float64 `mapstructure:"cy" yaml:"cy" json:"cy"`
}

// DatasetConfig describes the input sequence.
type DatasetConfig struct {
	// Dir is the sequence root; Associations is resolved against it when
	// relative.
	Dir          string  `mapstructure:"dir" yaml:"dir" json:"dir"`
	Associations string  `mapstructure:"associations" yaml:"associations" json:"associations"`
	DepthScale   float64 `mapstructure:"depth_scale" yaml:"depth_scale" json:"depth_scale"`
	MaxFrames    int     `mapstructure:"max_frames" yaml:"max_frames" json:"max_frames"`
}

// OutputConfig controls trajectory and debug output.
type OutputConfig struct {
	Trajectory string `mapstructure:"trajectory" yaml:"trajectory" json:"trajectory"`
	DebugDir   string `mapstructure:"debug_dir" yaml:"debug_dir" json:"debug_dir"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
}

// StreamConfig controls the live pose websocket endpoint.
type StreamConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
}
