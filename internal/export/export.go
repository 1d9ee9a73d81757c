// Package export serialises sealed or running sessions for persistence:
// JSON carries the full structured record, CSV one flattened row per result.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/security"
	"github.com/banshee-data/reading.report/internal/session"
)

// ErrUnknownFormat is returned for an unsupported export format.
var ErrUnknownFormat = errors.New("unknown export format")

// Format names an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts json or csv, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType is the HTTP media type of f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Session encodes s in the given format.
func Session(s *session.Session, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return JSON(s)
	case FormatCSV:
		return CSV(s)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Filename returns session_<id>_<yyyymmdd_hhmmss>.<ext>, safe to join onto
// an export directory.
func Filename(s *session.Session, f Format) string {
	name := fmt.Sprintf("session_%s_%s.%s", s.ID, s.StartedAt.UTC().Format("20060102_150405"), f)
	return security.SanitizeFilename(name)
}

type sessionRecord struct {
	SessionID string            `json:"session_id"`
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time,omitempty"`
	Duration  float64           `json:"duration_seconds"`
	Sealed    bool              `json:"sealed"`
	Metadata  map[string]string `json:"metadata"`
	Summary   session.Summary   `json:"summary"`
	Results   []resultRecord    `json:"results"`
}

type resultRecord struct {
	Timestamp     string             `json:"timestamp"`
	Score         float64            `json:"score"`
	Band          scoring.Band       `json:"band"`
	Instantaneous float64            `json:"instantaneous"`
	Smoothed      float64            `json:"smoothed"`
	WindowLen     int                `json:"window_len"`
	Features      map[string]float64 `json:"features"`
}

// JSON encodes the full session record, indented.
func JSON(s *session.Session) ([]byte, error) {
	rec := sessionRecord{
		SessionID: s.ID,
		StartTime: s.StartedAt.Format(time.RFC3339Nano),
		Duration:  s.Duration().Seconds(),
		Sealed:    s.Sealed(),
		Metadata:  s.Metadata,
		Summary:   s.Summary(),
		Results:   make([]resultRecord, 0, s.Len()),
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}
	if s.Sealed() {
		rec.EndTime = s.EndedAt.Format(time.RFC3339Nano)
	}
	for _, r := range s.Results() {
		rec.Results = append(rec.Results, resultRecord{
			Timestamp:     r.Timestamp.Format(time.RFC3339Nano),
			Score:         r.Score,
			Band:          r.Band,
			Instantaneous: r.Instantaneous,
			Smoothed:      r.Smoothed,
			WindowLen:     r.WindowLen,
			Features:      r.Observation.Features(),
		})
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return data, nil
}

// CSV writes timestamp,score,band followed by every feature seen in the
// session, sorted by name. Absent features are left empty.
func CSV(s *session.Session) ([]byte, error) {
	results := s.Results()
	names := featureColumns(results)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := append([]string{"timestamp", "score", "band"}, names...)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(header))
	for _, r := range results {
		row[0] = r.Timestamp.Format(time.RFC3339Nano)
		row[1] = formatFloat(r.Score)
		row[2] = r.Band.String()
		for i, name := range names {
			if v, ok := r.Observation.Feature(name); ok {
				row[3+i] = formatFloat(v)
			} else {
				row[3+i] = ""
			}
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func featureColumns(results []scoring.ScoreResult) []string {
	set := map[string]struct{}{}
	for _, r := range results {
		for _, n := range r.Observation.Names() {
			set[n] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
