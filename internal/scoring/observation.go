package scoring

import (
	"encoding/json"
	"sort"
	"time"
)

// Observation is one processed video frame's worth of landmark-derived
// features. It is immutable: the feature map is copied on the way in and on
// the way out.
type Observation struct {
	Timestamp time.Time
	features  map[string]float64
}

// NewObservation builds an Observation from a feature map.
func NewObservation(ts time.Time, features map[string]float64) Observation {
	return Observation{Timestamp: ts, features: copyFeatures(features)}
}

// Feature returns the named value and whether it is present.
func (o Observation) Feature(name string) (float64, bool) {
	v, ok := o.features[name]
	return v, ok
}

// Features returns a copy of all feature values.
func (o Observation) Features() map[string]float64 {
	return copyFeatures(o.features)
}

// Names returns the feature names in sorted order.
func (o Observation) Names() []string {
	names := make([]string, 0, len(o.features))
	for k := range o.features {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len is the number of features present.
func (o Observation) Len() int { return len(o.features) }

// WithTimestamp returns a copy of o stamped with ts.
func (o Observation) WithTimestamp(ts time.Time) Observation {
	// The map is never mutated after construction, so sharing it is safe.
	return Observation{Timestamp: ts, features: o.features}
}

type observationJSON struct {
	Timestamp time.Time          `json:"timestamp"`
	Features  map[string]float64 `json:"features"`
}

func (o Observation) MarshalJSON() ([]byte, error) {
	f := o.features
	if f == nil {
		f = map[string]float64{}
	}
	return json.Marshal(observationJSON{Timestamp: o.Timestamp, Features: f})
}

func (o *Observation) UnmarshalJSON(data []byte) error {
	var raw observationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = NewObservation(raw.Timestamp, raw.Features)
	return nil
}

func copyFeatures(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
