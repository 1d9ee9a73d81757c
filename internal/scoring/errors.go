package scoring

import "fmt"

// MissingFeatureError reports an observation that lacks a required feature.
// It signals an upstream contract violation and is never recovered internally.
type MissingFeatureError struct {
	Feature string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("observation missing required feature %q", e.Feature)
}
