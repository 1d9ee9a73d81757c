// Package ingest decodes recorded observation streams from JSON Lines or CSV
// files for offline replay and dev-mode fixtures.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/reading.report/internal/scoring"
)

// Format names an input encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// ErrUnknownFormat is returned for an unsupported input format.
var ErrUnknownFormat = errors.New("unknown input format")

// TimestampColumn is the CSV header naming the timestamp column.
const TimestampColumn = "timestamp"

// maxLine bounds a single JSON Lines record.
const maxLine = 1 << 20

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Decoder yields observations one at a time.
type Decoder interface {
	// Next returns the next observation, or io.EOF once the input is exhausted.
	Next() (scoring.Observation, error)
}

// NewDecoder returns a Decoder for r in the given format.
func NewDecoder(r io.Reader, format Format) (Decoder, error) {
	switch format {
	case FormatJSONL:
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		return &jsonlDecoder{sc: sc}, nil
	case FormatCSV:
		cr := csv.NewReader(r)
		cr.TrimLeadingSpace = true
		return &csvDecoder{r: cr}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ReadAll drains d.
func ReadAll(d Decoder) ([]scoring.Observation, error) {
	var out []scoring.Observation
	for {
		o, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, o)
	}
}

type jsonlDecoder struct {
	sc   *bufio.Scanner
	line int
}

type jsonlRecord struct {
	Timestamp json.RawMessage     `json:"timestamp"`
	Features  map[string]*float64 `json:"features"`
}

func (d *jsonlDecoder) Next() (scoring.Observation, error) {
	for d.sc.Scan() {
		d.line++
		raw := bytes.TrimSpace(d.sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		o, err := DecodeRecord(raw)
		if err != nil {
			return scoring.Observation{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return o, nil
	}
	if err := d.sc.Err(); err != nil {
		return scoring.Observation{}, fmt.Errorf("line %d: %w", d.line+1, err)
	}
	return scoring.Observation{}, io.EOF
}

// DecodeRecord decodes one {"timestamp": ..., "features": {...}} object. The
// timestamp may be an RFC3339 string, unix seconds, or absent. A null feature
// value counts as absent.
func DecodeRecord(data []byte) (scoring.Observation, error) {
	var rec jsonlRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return scoring.Observation{}, err
	}
	ts, err := parseJSONTimestamp(rec.Timestamp)
	if err != nil {
		return scoring.Observation{}, err
	}
	features := make(map[string]float64, len(rec.Features))
	for name, v := range rec.Features {
		if v != nil {
			features[name] = *v
		}
	}
	return scoring.NewObservation(ts, features), nil
}

func parseJSONTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return ParseTimestamp(s)
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, fmt.Errorf("timestamp must be RFC3339 or unix seconds: %w", err)
	}
	return unixSeconds(secs), nil
}

// ParseTimestamp accepts RFC3339 (with optional fractional seconds) or
// decimal unix seconds. An empty string is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return unixSeconds(secs), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q must be RFC3339 or unix seconds", s)
	}
	return t, nil
}

func unixSeconds(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

type csvDecoder struct {
	r      *csv.Reader
	header []string
	tsCol  int
}

func (d *csvDecoder) readHeader() error {
	header, err := d.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read csv header: %w", err)
	}
	d.tsCol = -1
	d.header = make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		d.header[i] = h
		if h == TimestampColumn {
			d.tsCol = i
		}
	}
	return nil
}

func (d *csvDecoder) Next() (scoring.Observation, error) {
	if d.header == nil {
		if err := d.readHeader(); err != nil {
			return scoring.Observation{}, err
		}
	}
	rec, err := d.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return scoring.Observation{}, io.EOF
		}
		return scoring.Observation{}, fmt.Errorf("read csv: %w", err)
	}
	line, _ := d.r.FieldPos(0)

	var ts time.Time
	features := make(map[string]float64, len(rec))
	for i, cell := range rec {
		cell = strings.TrimSpace(cell)
		if i == d.tsCol {
			if ts, err = ParseTimestamp(cell); err != nil {
				return scoring.Observation{}, fmt.Errorf("line %d: %w", line, err)
			}
			continue
		}
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return scoring.Observation{}, fmt.Errorf("line %d: column %s: invalid number %q", line, d.header[i], cell)
		}
		features[d.header[i]] = v
	}
	return scoring.NewObservation(ts, features), nil
}
