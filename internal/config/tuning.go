package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/reading.report/internal/scoring"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the on-disk parameter set for the scorer. Every field is
// optional; the Get* accessors supply the built-in defaults for omitted ones.
type TuningConfig struct {
	WindowSize    *int     `json:"window_size,omitempty"`
	InstantWeight *float64 `json:"instant_weight,omitempty"`
	Smoothing     *string  `json:"smoothing,omitempty"` // "mean" or "ema"
	EMAAlpha      *float64 `json:"ema_alpha,omitempty"`

	// Features replaces the whole feature contract when present.
	Features []scoring.FeatureSpec `json:"features,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the scorer defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		WindowSize:    ptrInt(scoring.DefaultWindowSize),
		InstantWeight: ptrFloat64(scoring.DefaultInstantWeight),
		Smoothing:     ptrString(string(scoring.SmoothingMean)),
		EMAAlpha:      ptrFloat64(scoring.DefaultEMAAlpha),
		Features:      scoring.DefaultFeatures(),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have a
// .json extension and be at most 1MB. Omitted fields keep their defaults, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. It panics if the file
// cannot be loaded and is intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/replay/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the set fields. The feature contract and the combined
// parameter set are checked again by ScorerConfig.
func (c *TuningConfig) Validate() error {
	if c.WindowSize != nil && *c.WindowSize < 1 {
		return fmt.Errorf("window_size must be at least 1, got %d", *c.WindowSize)
	}
	if c.InstantWeight != nil {
		if w := *c.InstantWeight; math.IsNaN(w) || w < 0 || w > 1 {
			return fmt.Errorf("instant_weight must be between 0 and 1, got %f", w)
		}
	}
	if c.Smoothing != nil {
		switch scoring.Smoothing(*c.Smoothing) {
		case scoring.SmoothingMean, scoring.SmoothingEMA:
		default:
			return fmt.Errorf("smoothing must be %q or %q, got %q", scoring.SmoothingMean, scoring.SmoothingEMA, *c.Smoothing)
		}
	}
	if c.EMAAlpha != nil {
		if a := *c.EMAAlpha; math.IsNaN(a) || a <= 0 || a > 1 {
			return fmt.Errorf("ema_alpha must be in (0, 1], got %f", a)
		}
	}
	for _, f := range c.Features {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetWindowSize returns the window_size value or the default.
func (c *TuningConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return scoring.DefaultWindowSize
	}
	return *c.WindowSize
}

// GetInstantWeight returns the instant_weight value or the default.
func (c *TuningConfig) GetInstantWeight() float64 {
	if c.InstantWeight == nil {
		return scoring.DefaultInstantWeight
	}
	return *c.InstantWeight
}

// GetSmoothing returns the smoothing mode or the default.
func (c *TuningConfig) GetSmoothing() scoring.Smoothing {
	if c.Smoothing == nil || *c.Smoothing == "" {
		return scoring.SmoothingMean
	}
	return scoring.Smoothing(*c.Smoothing)
}

// GetEMAAlpha returns the ema_alpha value or the default.
func (c *TuningConfig) GetEMAAlpha() float64 {
	if c.EMAAlpha == nil {
		return scoring.DefaultEMAAlpha
	}
	return *c.EMAAlpha
}

// GetFeatures returns the configured feature contract or the default one.
func (c *TuningConfig) GetFeatures() []scoring.FeatureSpec {
	if len(c.Features) == 0 {
		return scoring.DefaultFeatures()
	}
	return append([]scoring.FeatureSpec(nil), c.Features...)
}

// ScorerConfig resolves the tuning file into a validated scoring.Config.
func (c *TuningConfig) ScorerConfig() (scoring.Config, error) {
	cfg := scoring.Config{
		Features:      c.GetFeatures(),
		WindowSize:    c.GetWindowSize(),
		InstantWeight: c.GetInstantWeight(),
		Smoothing:     c.GetSmoothing(),
		EMAAlpha:      c.GetEMAAlpha(),
	}
	if err := cfg.Validate(); err != nil {
		return scoring.Config{}, fmt.Errorf("invalid scorer configuration: %w", err)
	}
	return cfg, nil
}
