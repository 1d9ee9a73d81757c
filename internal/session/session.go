// Package session accrues the ScoreResults of one detection run between an
// explicit start and stop.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/timeutil"
)

// ErrSealed is returned when recording into, or stopping, a stopped session.
var ErrSealed = errors.New("session is sealed")

// Session is the ordered record of one detection run. It has a single owner
// and is not safe for concurrent use.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Metadata  map[string]string

	clock   timeutil.Clock
	results []scoring.ScoreResult
	sealed  bool
}

// Start opens a new session at the clock's current time.
func Start(clock timeutil.Clock, metadata map[string]string) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Session{
		ID:        uuid.New().String(),
		StartedAt: clock.Now(),
		Metadata:  md,
		clock:     clock,
	}
}

// Restore rebuilds a session from persisted parts. A non-zero endedAt yields a
// sealed session. An open session restored from storage has no live clock, so
// its duration is frozen at the last recorded result.
func Restore(id string, startedAt, endedAt time.Time, metadata map[string]string, results []scoring.ScoreResult) *Session {
	s := &Session{
		ID:        id,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Metadata:  metadata,
		results:   append([]scoring.ScoreResult(nil), results...),
		sealed:    !endedAt.IsZero(),
	}
	last := startedAt
	if r, ok := s.Last(); ok && r.Timestamp.After(last) {
		last = r.Timestamp
	}
	s.clock = timeutil.NewMockClock(last)
	return s
}

// Snapshot returns an independent copy that shares the clock, so an open
// session keeps measuring its duration.
func (s *Session) Snapshot() *Session {
	md := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		md[k] = v
	}
	return &Session{
		ID:        s.ID,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Metadata:  md,
		clock:     s.clock,
		results:   s.Results(),
		sealed:    s.sealed,
	}
}

// Record appends r.
func (s *Session) Record(r scoring.ScoreResult) error {
	if s.sealed {
		return ErrSealed
	}
	s.results = append(s.results, r)
	return nil
}

// Stop seals the session and stamps its end time.
func (s *Session) Stop() error {
	if s.sealed {
		return ErrSealed
	}
	s.sealed = true
	s.EndedAt = s.clock.Now()
	return nil
}

// Sealed reports whether Stop has been called.
func (s *Session) Sealed() bool { return s.sealed }

// Len is the number of recorded results.
func (s *Session) Len() int { return len(s.results) }

// Results returns a copy of the recorded results in arrival order.
func (s *Session) Results() []scoring.ScoreResult {
	return append([]scoring.ScoreResult(nil), s.results...)
}

// Last returns the most recent result.
func (s *Session) Last() (scoring.ScoreResult, bool) {
	if len(s.results) == 0 {
		return scoring.ScoreResult{}, false
	}
	return s.results[len(s.results)-1], true
}

// Duration is the elapsed time of the run; open sessions measure up to now.
func (s *Session) Duration() time.Duration {
	if s.sealed {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return s.clock.Since(s.StartedAt)
}

// Summary aggregates a session's scores.
type Summary struct {
	SessionID    string         `json:"session_id"`
	Total        int            `json:"total_results"`
	Duration     float64        `json:"duration_seconds"`
	MeanScore    float64        `json:"mean_score"`
	MaxScore     float64        `json:"max_score"`
	StdDevScore  float64        `json:"stddev_score"`
	BandCounts   map[string]int `json:"band_counts"`
	DominantBand scoring.Band   `json:"dominant_band"`
}

// Summary computes count, duration and score statistics.
func (s *Session) Summary() Summary {
	sum := Summary{
		SessionID: s.ID,
		Total:     len(s.results),
		Duration:  s.Duration().Seconds(),
		BandCounts: map[string]int{
			scoring.BandNormal.String():      0,
			scoring.BandMild.String():        0,
			scoring.BandSignificant.String(): 0,
		},
	}
	if len(s.results) == 0 {
		return sum
	}

	scores := make([]float64, len(s.results))
	for i, r := range s.results {
		scores[i] = r.Score
		sum.BandCounts[r.Band.String()]++
		if r.Score > sum.MaxScore {
			sum.MaxScore = r.Score
		}
	}
	if len(scores) > 1 {
		sum.MeanScore, sum.StdDevScore = stat.MeanStdDev(scores, nil)
	} else {
		sum.MeanScore = scores[0]
	}

	best := -1
	for _, b := range []scoring.Band{scoring.BandNormal, scoring.BandMild, scoring.BandSignificant} {
		if n := sum.BandCounts[b.String()]; n > best {
			best = n
			sum.DominantBand = b
		}
	}
	return sum
}
