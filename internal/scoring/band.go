package scoring

import "fmt"

// Band thresholds. A score equal to a threshold belongs to the upper band.
const (
	MildThreshold        = 0.3
	SignificantThreshold = 0.7
)

// Band is the categorical severity derived from a score.
type Band int

const (
	BandNormal Band = iota
	BandMild
	BandSignificant
)

// BandFor maps a score to its band.
func BandFor(score float64) Band {
	switch {
	case score < MildThreshold:
		return BandNormal
	case score < SignificantThreshold:
		return BandMild
	default:
		return BandSignificant
	}
}

func (b Band) String() string {
	switch b {
	case BandNormal:
		return "normal"
	case BandMild:
		return "mild"
	case BandSignificant:
		return "significant"
	default:
		return fmt.Sprintf("band(%d)", int(b))
	}
}

// Label is the human readable status shown next to a live score.
func (b Band) Label() string {
	switch b {
	case BandNormal:
		return "Normal Reading"
	case BandMild:
		return "Slight Difficulty"
	case BandSignificant:
		return "Reading Difficulty"
	default:
		return "Unknown"
	}
}

// ParseBand is the inverse of Band.String.
func ParseBand(s string) (Band, error) {
	switch s {
	case "normal":
		return BandNormal, nil
	case "mild":
		return BandMild, nil
	case "significant":
		return BandSignificant, nil
	}
	return 0, fmt.Errorf("unknown band %q", s)
}

func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Band) UnmarshalText(text []byte) error {
	v, err := ParseBand(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}
