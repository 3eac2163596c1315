// Package config loads the TOML run configuration of the window tuner and
// the estimators.
package config

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/rodgdutra/ptp-dal/core/trace"
)

const (
	defaultLSWindow   = 105
	defaultPktsWindow = 16
	defaultBatchSize  = 4096
	defaultConfigDir  = "config"
)

// Estimators lists the estimator names accepted in the [windows] table.
var Estimators = []string{
	"ls",
	"sample-average",
	"sample-ewma",
	"sample-median",
	"sample-min",
	"sample-min-ls",
	"sample-max",
	"sample-mode",
	"sample-mode-ls",
}

type Config struct {
	Input         string  `toml:"input"`
	PeriodNs      float64 `toml:"period_ns"` // 0: from the trace metadata
	SampleSkip    int     `toml:"sample_skip"`
	EarlyStopping bool    `toml:"early_stopping"`
	Force         bool    `toml:"force"`
	Save          bool    `toml:"save"`
	BatchSize     int     `toml:"batch_size"`
	Vectorize     bool    `toml:"vectorize"`
	DriftComp     bool    `toml:"drift_comp"`
	ConfigDir     string  `toml:"config_dir"`

	// Windows are the lengths used when window tuning is disabled.
	Windows map[string]int `toml:"windows"`
}

func DefaultWindows() map[string]int {
	w := make(map[string]int, len(Estimators))
	for _, name := range Estimators {
		w[name] = defaultPktsWindow
	}
	w["ls"] = defaultLSWindow
	return w
}

func Default() Config {
	return Config{
		EarlyStopping: true,
		Save:          true,
		BatchSize:     defaultBatchSize,
		Vectorize:     true,
		ConfigDir:     defaultConfigDir,
		Windows:       DefaultWindows(),
	}
}

// Load reads the configuration at path. Settings absent from the file keep
// their defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return Decode(raw)
}

func Decode(raw []byte) (Config, error) {
	cfg := Default()
	cfg.Windows = nil
	err := toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w: %w", trace.ErrInvalidArgument, err)
	}
	w := DefaultWindows()
	for name, n := range cfg.Windows {
		w[name] = n
	}
	cfg.Windows = w
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.PeriodNs < 0 {
		return fmt.Errorf("negative period_ns %v: %w", c.PeriodNs, trace.ErrInvalidArgument)
	}
	if c.SampleSkip < 0 {
		return fmt.Errorf("negative sample_skip %d: %w", c.SampleSkip, trace.ErrInvalidArgument)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("negative batch_size %d: %w", c.BatchSize, trace.ErrInvalidArgument)
	}
	for name, n := range c.Windows {
		if !slices.Contains(Estimators, name) {
			return fmt.Errorf("unknown estimator %q in windows: %w", name, trace.ErrInvalidArgument)
		}
		minN := 1
		if name == "ls" {
			minN = 2
		}
		if n < minN {
			return fmt.Errorf("window of %s must be >= %d, got %d: %w",
				name, minN, n, trace.ErrInvalidArgument)
		}
	}
	return nil
}

// Window returns the configured window length of estimator name.
func (c Config) Window(name string) int {
	if n, ok := c.Windows[name]; ok {
		return n
	}
	return DefaultWindows()[name]
}
