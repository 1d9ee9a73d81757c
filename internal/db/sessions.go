package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/session"
)

// ErrSessionNotFound is returned when no session has the requested id.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is one row of reading_sessions.
type SessionRecord struct {
	SessionID    string            `json:"session_id"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
	Metadata     map[string]string `json:"metadata"`
	TotalResults int               `json:"total_results"`
	MeanScore    *float64          `json:"mean_score,omitempty"`
	MaxScore     *float64          `json:"max_score,omitempty"`
	StdDevScore  *float64          `json:"stddev_score,omitempty"`
	DominantBand string            `json:"dominant_band,omitempty"`
}

// StartSession inserts the session header row.
func (db *DB) StartSession(s *session.Session) error {
	md, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if s.Metadata == nil {
		md = []byte("{}")
	}
	_, err = db.Exec(
		`INSERT INTO reading_sessions (session_id, started_at, metadata_json) VALUES (?, ?, ?)`,
		s.ID, s.StartedAt.UnixNano(), string(md),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// RecordResult appends one result at position seq.
func (db *DB) RecordResult(sessionID string, seq int, r scoring.ScoreResult) error {
	features, err := json.Marshal(r.Observation.Features())
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO reading_results (
			session_id, seq, ts_unix_nanos, score, band,
			instantaneous, smoothed, window_len, features_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seq, r.Timestamp.UnixNano(), r.Score, r.Band.String(),
		r.Instantaneous, r.Smoothed, r.WindowLen, string(features),
	)
	if err != nil {
		return fmt.Errorf("insert result %s/%d: %w", sessionID, seq, err)
	}
	return nil
}

// EndSession stamps the end time and stores the summary statistics.
func (db *DB) EndSession(s *session.Session) error {
	sum := s.Summary()
	var mean, maxScore, stddev, dominant interface{}
	if sum.Total > 0 {
		mean, maxScore, stddev, dominant = sum.MeanScore, sum.MaxScore, sum.StdDevScore, sum.DominantBand.String()
	}
	res, err := db.Exec(`
		UPDATE reading_sessions
		SET ended_at = ?, total_results = ?, mean_score = ?, max_score = ?,
		    stddev_score = ?, dominant_band = ?
		WHERE session_id = ?`,
		s.EndedAt.UnixNano(), sum.Total, mean, maxScore, stddev, dominant, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("end session %s: %w", s.ID, ErrSessionNotFound)
	}
	return nil
}

const sessionColumns = `session_id, started_at, ended_at, metadata_json, total_results,
	mean_score, max_score, stddev_score, dominant_band`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		rec      SessionRecord
		started  int64
		ended    sql.NullInt64
		md       string
		mean     sql.NullFloat64
		maxScore sql.NullFloat64
		stddev   sql.NullFloat64
		dominant sql.NullString
	)
	if err := row.Scan(&rec.SessionID, &started, &ended, &md, &rec.TotalResults,
		&mean, &maxScore, &stddev, &dominant); err != nil {
		return rec, err
	}
	rec.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		rec.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(md), &rec.Metadata); err != nil {
		return rec, fmt.Errorf("decode metadata for %s: %w", rec.SessionID, err)
	}
	if mean.Valid {
		rec.MeanScore = &mean.Float64
	}
	if maxScore.Valid {
		rec.MaxScore = &maxScore.Float64
	}
	if stddev.Valid {
		rec.StdDevScore = &stddev.Float64
	}
	rec.DominantBand = dominant.String
	return rec, nil
}

// Sessions lists sessions newest first. A limit of zero or less returns all.
func (db *DB) Sessions(limit int) ([]SessionRecord, error) {
	q := `SELECT ` + sessionColumns + ` FROM reading_sessions ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetSession returns the header row for id.
func (db *DB) GetSession(id string) (SessionRecord, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM reading_sessions WHERE session_id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrSessionNotFound
	}
	return rec, err
}

// LoadSession rebuilds the full session, results included, in seq order.
func (db *DB) LoadSession(id string) (*session.Session, error) {
	rec, err := db.GetSession(id)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT ts_unix_nanos, score, band, instantaneous, smoothed, window_len, features_json
		FROM reading_results WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query results for %s: %w", id, err)
	}
	defer rows.Close()

	var results []scoring.ScoreResult
	for rows.Next() {
		var (
			r        scoring.ScoreResult
			ts       int64
			band     string
			features string
		)
		if err := rows.Scan(&ts, &r.Score, &band, &r.Instantaneous, &r.Smoothed, &r.WindowLen, &features); err != nil {
			return nil, err
		}
		if r.Band, err = scoring.ParseBand(band); err != nil {
			return nil, err
		}
		var fm map[string]float64
		if err := json.Unmarshal([]byte(features), &fm); err != nil {
			return nil, fmt.Errorf("decode features for %s: %w", id, err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Observation = scoring.NewObservation(r.Timestamp, fm)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var ended time.Time
	if rec.EndedAt != nil {
		ended = *rec.EndedAt
	}
	return session.Restore(rec.SessionID, rec.StartedAt, ended, rec.Metadata, results), nil
}

// DeleteSession removes a session and its results.
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec(`DELETE FROM reading_sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
