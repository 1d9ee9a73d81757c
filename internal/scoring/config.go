package scoring

import (
	"fmt"
	"math"
)

// Smoothing selects the statistic computed over the ScoreWindow.
type Smoothing string

const (
	// SmoothingMean is the unweighted per-feature moving average.
	SmoothingMean Smoothing = "mean"
	// SmoothingEMA weights the newest observation 1 and each older one by a
	// further factor of (1 - EMAAlpha).
	SmoothingEMA Smoothing = "ema"
)

// Default scorer parameters.
const (
	DefaultWindowSize    = 30
	DefaultInstantWeight = 0.4
	DefaultEMAAlpha      = 0.2
)

// Config is the documented parameter set of a Scorer.
type Config struct {
	Features      []FeatureSpec `json:"features"`
	WindowSize    int           `json:"window_size"`
	InstantWeight float64       `json:"instant_weight"`
	Smoothing     Smoothing     `json:"smoothing"`
	EMAAlpha      float64       `json:"ema_alpha"`
}

// DefaultConfig returns the default feature contract with a 30-sample mean window
// and a 0.4 / 0.6 instantaneous / smoothed split.
func DefaultConfig() Config {
	return Config{
		Features:      DefaultFeatures(),
		WindowSize:    DefaultWindowSize,
		InstantWeight: DefaultInstantWeight,
		Smoothing:     SmoothingMean,
		EMAAlpha:      DefaultEMAAlpha,
	}
}

// Validate reports the first invalid parameter.
func (c Config) Validate() error {
	if len(c.Features) == 0 {
		return fmt.Errorf("at least one feature is required")
	}
	seen := make(map[string]bool, len(c.Features))
	for _, f := range c.Features {
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate feature %q", f.Name)
		}
		seen[f.Name] = true
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("window size must be at least 1, got %d", c.WindowSize)
	}
	if math.IsNaN(c.InstantWeight) || c.InstantWeight < 0 || c.InstantWeight > 1 {
		return fmt.Errorf("instant weight must be between 0 and 1, got %v", c.InstantWeight)
	}
	switch c.Smoothing {
	case SmoothingMean:
	case SmoothingEMA:
		if math.IsNaN(c.EMAAlpha) || c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
			return fmt.Errorf("ema alpha must be in (0, 1], got %v", c.EMAAlpha)
		}
	default:
		return fmt.Errorf("unknown smoothing %q", c.Smoothing)
	}
	return nil
}
