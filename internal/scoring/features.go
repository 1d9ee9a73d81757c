package scoring

import (
	"fmt"
	"math"
)

// Feature names agreed with the landmark pipeline.
const (
	FeatureBlinkRate        = "blink_rate"
	FeatureGazeStability    = "gaze_stability"
	FeatureHeadPoseDev      = "head_pose_dev"
	FeatureFixationDuration = "fixation_duration"
)

// Op selects which side of a Rule threshold awards points.
type Op string

const (
	OpBelow Op = "below"
	OpAbove Op = "above"
)

// Rule awards Points when a feature value is strictly below or above Threshold.
type Rule struct {
	Op        Op      `json:"op"`
	Threshold float64 `json:"threshold"`
	Points    float64 `json:"points"`
}

func (r Rule) matches(v float64) bool {
	switch r.Op {
	case OpBelow:
		return v < r.Threshold
	case OpAbove:
		return v > r.Threshold
	default:
		return false
	}
}

// FeatureSpec declares one named feature of the observation contract: its unit,
// the valid numeric range values are clamped into, and the ordered rules that
// turn a value into difficulty points. The first matching rule wins.
type FeatureSpec struct {
	Name     string  `json:"name"`
	Unit     string  `json:"unit,omitempty"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Optional bool    `json:"optional,omitempty"`
	Rules    []Rule  `json:"rules"`
}

// Clamp forces v into [Min, Max]. NaN maps to Min.
func (f FeatureSpec) Clamp(v float64) float64 {
	if math.IsNaN(v) || v < f.Min {
		return f.Min
	}
	if v > f.Max {
		return f.Max
	}
	return v
}

// Points returns the points of the first rule matching v, or zero.
func (f FeatureSpec) Points(v float64) float64 {
	for _, r := range f.Rules {
		if r.matches(v) {
			return r.Points
		}
	}
	return 0
}

// Validate checks the range and rule definitions.
func (f FeatureSpec) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("feature name must not be empty")
	}
	if math.IsNaN(f.Min) || math.IsNaN(f.Max) || f.Min > f.Max {
		return fmt.Errorf("feature %s: invalid range [%v, %v]", f.Name, f.Min, f.Max)
	}
	for i, r := range f.Rules {
		if r.Op != OpBelow && r.Op != OpAbove {
			return fmt.Errorf("feature %s: rule %d has unknown op %q", f.Name, i, r.Op)
		}
		if r.Points < 0 || r.Points > 1 {
			return fmt.Errorf("feature %s: rule %d points must be between 0 and 1, got %v", f.Name, i, r.Points)
		}
	}
	return nil
}

// DefaultFeatures returns the standard four-feature contract.
//
//	blink_rate         blinks/min  [0, 60]    <8 → .25, <12 → .10, >25 → .15
//	gaze_stability     1 = steady  [0, 1]     <.3 → .30, <.5 → .15
//	head_pose_dev      degrees     [0, 90]    >15 → .15, >8 → .05
//	fixation_duration  ms          [0, 2000]  >600 → .25, >400 → .10
//
// Both infrequent blinking (strain) and very frequent blinking (fatigue) score.
func DefaultFeatures() []FeatureSpec {
	return []FeatureSpec{
		{
			Name: FeatureBlinkRate, Unit: "blinks/min", Min: 0, Max: 60,
			Rules: []Rule{
				{Op: OpBelow, Threshold: 8, Points: 0.25},
				{Op: OpBelow, Threshold: 12, Points: 0.10},
				{Op: OpAbove, Threshold: 25, Points: 0.15},
			},
		},
		{
			Name: FeatureGazeStability, Unit: "ratio", Min: 0, Max: 1,
			Rules: []Rule{
				{Op: OpBelow, Threshold: 0.3, Points: 0.30},
				{Op: OpBelow, Threshold: 0.5, Points: 0.15},
			},
		},
		{
			Name: FeatureHeadPoseDev, Unit: "deg", Min: 0, Max: 90,
			Rules: []Rule{
				{Op: OpAbove, Threshold: 15, Points: 0.15},
				{Op: OpAbove, Threshold: 8, Points: 0.05},
			},
		},
		{
			Name: FeatureFixationDuration, Unit: "ms", Min: 0, Max: 2000,
			Rules: []Rule{
				{Op: OpAbove, Threshold: 600, Points: 0.25},
				{Op: OpAbove, Threshold: 400, Points: 0.10},
			},
		},
	}
}
