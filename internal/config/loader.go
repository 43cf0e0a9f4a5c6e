package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "dvo"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "DVO"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader backed by the global viper
// instance so flag bindings keep working.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader over a private viper instance, used by tests.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation loads configuration without running Validate,
// for commands that only inspect it.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load()
}

func (l *Loader) load() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")

	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFile loads and validates configuration from an explicit file
// path; a missing file is an error here, unlike the search-path flow.
func (l *Loader) LoadWithFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	return l.Load()
}

// LoadFileWithoutValidation is LoadWithFile minus Validate, for commands
// that bind more settings from flags before validating.
func (l *Loader) LoadFileWithoutValidation(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	return l.load()
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
		l.v.AddConfigPath(filepath.Join(home, ".config", "dvo"))
	}
	l.v.AddConfigPath("/etc/dvo")
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

func (l *Loader) setDefaults() {
	def := Default()
	l.v.SetDefault("log_level", def.LogLevel)
	l.v.SetDefault("verbose", def.Verbose)

	l.v.SetDefault("tracker.min_level", def.Tracker.MinLevel)
	l.v.SetDefault("tracker.max_level", def.Tracker.MaxLevel)
	l.v.SetDefault("tracker.max_iterations_per_level", def.Tracker.MaxIterationsPerLevel)
	l.v.SetDefault("tracker.use_tdist_weights", def.Tracker.UseTDistWeights)
	l.v.SetDefault("tracker.tdist_dof", def.Tracker.TDistDoF)
	l.v.SetDefault("tracker.scale_initial", def.Tracker.ScaleInitial)
	l.v.SetDefault("tracker.convergence_ratio", def.Tracker.ConvergenceRatio)
	l.v.SetDefault("tracker.solving_method", def.Tracker.SolvingMethod)
	l.v.SetDefault("tracker.workers", def.Tracker.Workers)

	l.v.SetDefault("dataset.associations", def.Dataset.Associations)
	l.v.SetDefault("dataset.depth_scale", def.Dataset.DepthScale)
	l.v.SetDefault("dataset.max_frames", def.Dataset.MaxFrames)

	l.v.SetDefault("output.trajectory", def.Output.Trajectory)
}
