// Package scoring maps a time-ordered stream of facial-landmark feature
// observations to a bounded reading difficulty score and severity band.
//
// Each observation is clamped into the declared feature ranges and scored by
// fixed threshold rules. The final score blends that instantaneous value with
// the same rules applied to a smoothed feature vector over a short sliding
// window, then saturates into [0, 1].
package scoring

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ScoreResult is the read-only output for one processed observation.
type ScoreResult struct {
	Score     float64   `json:"score"`
	Band      Band      `json:"band"`
	Timestamp time.Time `json:"timestamp"`
	// Observation is the triggering observation after clamping.
	Observation   Observation `json:"observation"`
	Instantaneous float64     `json:"instantaneous"`
	Smoothed      float64     `json:"smoothed"`
	WindowLen     int         `json:"window_len"`
}

// Scorer owns a ScoreWindow for the lifetime of one detection session.
// It performs no I/O and is not safe for concurrent use.
type Scorer struct {
	cfg    Config
	window *ScoreWindow
}

// NewScorer validates cfg and returns a Scorer with an empty window.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Features = append([]FeatureSpec(nil), cfg.Features...)
	return &Scorer{cfg: cfg, window: NewScoreWindow(cfg.WindowSize)}, nil
}

// Config returns the parameters the scorer was built with.
func (s *Scorer) Config() Config { return s.cfg }

// Process scores o and appends it to the window. An observation missing a
// required feature yields a *MissingFeatureError and leaves the window
// untouched.
func (s *Scorer) Process(o Observation) (ScoreResult, error) {
	clamped, err := s.clamp(o)
	if err != nil {
		return ScoreResult{}, err
	}
	s.window.Push(clamped)

	inst := s.points(clamped)
	smoothed := inst
	if s.window.Len() > 1 {
		smoothed = s.points(s.smoothedObservation())
	}

	score := clamp01(s.cfg.InstantWeight*inst + (1-s.cfg.InstantWeight)*smoothed)
	return ScoreResult{
		Score:         score,
		Band:          BandFor(score),
		Timestamp:     clamped.Timestamp,
		Observation:   clamped,
		Instantaneous: inst,
		Smoothed:      smoothed,
		WindowLen:     s.window.Len(),
	}, nil
}

// Instantaneous scores o on its own without touching the window.
func (s *Scorer) Instantaneous(o Observation) (float64, error) {
	clamped, err := s.clamp(o)
	if err != nil {
		return 0, err
	}
	return s.points(clamped), nil
}

// Window returns a copy of the window contents, oldest first.
func (s *Scorer) Window() []Observation { return s.window.Snapshot() }

// Reset empties the window.
func (s *Scorer) Reset() { s.window.Reset() }

// clamp checks required features and returns o restricted to the declared
// contract. Unknown features are dropped.
func (s *Scorer) clamp(o Observation) (Observation, error) {
	out := make(map[string]float64, len(s.cfg.Features))
	for _, f := range s.cfg.Features {
		v, ok := o.Feature(f.Name)
		if !ok {
			if f.Optional {
				continue
			}
			return Observation{}, &MissingFeatureError{Feature: f.Name}
		}
		out[f.Name] = f.Clamp(v)
	}
	return Observation{Timestamp: o.Timestamp, features: out}, nil
}

func (s *Scorer) points(o Observation) float64 {
	total := 0.0
	for _, f := range s.cfg.Features {
		if v, ok := o.Feature(f.Name); ok {
			total += f.Points(v)
		}
	}
	return math.Min(total, 1)
}

// smoothedObservation collapses the window into one feature vector.
func (s *Scorer) smoothedObservation() Observation {
	n := s.window.Len()
	out := make(map[string]float64, len(s.cfg.Features))
	values := make([]float64, 0, n)
	var weights []float64
	if s.cfg.Smoothing == SmoothingEMA {
		weights = make([]float64, 0, n)
	}
	for _, f := range s.cfg.Features {
		values = values[:0]
		if weights != nil {
			weights = weights[:0]
		}
		for i := 0; i < n; i++ {
			v, ok := s.window.At(i).Feature(f.Name)
			if !ok {
				continue
			}
			values = append(values, v)
			if weights != nil {
				age := n - 1 - i
				weights = append(weights, math.Pow(1-s.cfg.EMAAlpha, float64(age)))
			}
		}
		if len(values) == 0 {
			continue
		}
		out[f.Name] = stat.Mean(values, weights)
	}
	last := s.window.At(n - 1)
	return Observation{Timestamp: last.Timestamp, features: out}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
