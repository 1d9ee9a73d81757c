package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/reading.report/internal/monitoring"
	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/session"
	"github.com/banshee-data/reading.report/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "reading.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// recordSession runs a few observations through a real scorer and persists
// them the way the monitor would.
func recordSession(t *testing.T, db *DB, blinks ...float64) *session.Session {
	t.Helper()
	clock := timeutil.NewMockClock(t0)
	s := session.Start(clock, map[string]string{"reader": "test"})
	require.NoError(t, db.StartSession(s))

	sc, err := scoring.NewScorer(scoring.DefaultConfig())
	require.NoError(t, err)
	for i, b := range blinks {
		ts := t0.Add(time.Duration(i+1) * time.Second)
		r, err := sc.Process(scoring.NewObservation(ts, map[string]float64{
			scoring.FeatureBlinkRate:        b,
			scoring.FeatureGazeStability:    0.8,
			scoring.FeatureHeadPoseDev:      3,
			scoring.FeatureFixationDuration: 250,
		}))
		require.NoError(t, err)
		require.NoError(t, s.Record(r))
		require.NoError(t, db.RecordResult(s.ID, i, r))
	}
	clock.Advance(time.Duration(len(blinks)+1) * time.Second)
	require.NoError(t, s.Stop())
	require.NoError(t, db.EndSession(s))
	return s
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp(MigrationsFS()))
}

func TestNewDB_Pragmas(t *testing.T) {
	db := setupTestDB(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrateDownAndTo(t *testing.T) {
	db := setupTestDB(t)
	fsys := MigrationsFS()

	require.NoError(t, db.MigrateDown(fsys))
	version, _, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateTo(fsys, 2))
	version, _, err = db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestSessionRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	orig := recordSession(t, db, 15, 15, 5, 5)

	loaded, err := db.LoadSession(orig.ID)
	require.NoError(t, err)

	assert.Equal(t, orig.ID, loaded.ID)
	assert.True(t, orig.StartedAt.Equal(loaded.StartedAt))
	assert.True(t, orig.EndedAt.Equal(loaded.EndedAt))
	assert.True(t, loaded.Sealed())
	assert.Equal(t, map[string]string{"reader": "test"}, loaded.Metadata)

	want, got := orig.Results(), loaded.Results()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i].Score, got[i].Score, 1e-12)
		assert.Equal(t, want[i].Band, got[i].Band)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
		assert.Equal(t, want[i].WindowLen, got[i].WindowLen)
		assert.Equal(t, want[i].Observation.Features(), got[i].Observation.Features())
	}
}

func TestGetSession_Summary(t *testing.T) {
	db := setupTestDB(t)
	s := recordSession(t, db, 15, 5)
	sum := s.Summary()

	rec, err := db.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TotalResults)
	require.NotNil(t, rec.EndedAt)
	require.NotNil(t, rec.MeanScore)
	require.NotNil(t, rec.MaxScore)
	assert.InDelta(t, sum.MeanScore, *rec.MeanScore, 1e-12)
	assert.InDelta(t, sum.MaxScore, *rec.MaxScore, 1e-12)
	assert.Equal(t, sum.DominantBand.String(), rec.DominantBand)
}

func TestEmptySessionHasNullStats(t *testing.T) {
	db := setupTestDB(t)
	s := recordSession(t, db)

	rec, err := db.GetSession(s.ID)
	require.NoError(t, err)
	assert.Zero(t, rec.TotalResults)
	assert.Nil(t, rec.MeanScore)
	assert.Empty(t, rec.DominantBand)

	loaded, err := db.LoadSession(s.ID)
	require.NoError(t, err)
	assert.Zero(t, loaded.Len())
}

func TestLoadSession_UnendedDurationStopsAtLastResult(t *testing.T) {
	db := setupTestDB(t)
	s := session.Start(timeutil.NewMockClock(t0), nil)
	require.NoError(t, db.StartSession(s))
	for i := 0; i < 3; i++ {
		ts := t0.Add(time.Duration(i+1) * 10 * time.Second)
		r := scoring.ScoreResult{Timestamp: ts, Observation: scoring.NewObservation(ts, nil)}
		require.NoError(t, db.RecordResult(s.ID, i, r))
	}

	loaded, err := db.LoadSession(s.ID)
	require.NoError(t, err)
	assert.False(t, loaded.Sealed())
	assert.Equal(t, 30*time.Second, loaded.Duration())
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 30*time.Second, loaded.Duration())
}

func TestSessions_NewestFirstWithLimit(t *testing.T) {
	db := setupTestDB(t)

	var ids []string
	for i := 0; i < 3; i++ {
		s := session.Start(timeutil.NewMockClock(t0.Add(time.Duration(i)*time.Hour)), nil)
		require.NoError(t, db.StartSession(s))
		ids = append(ids, s.ID)
	}

	all, err := db.Sessions(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].SessionID)
	assert.Equal(t, ids[0], all[2].SessionID)
	assert.Nil(t, all[0].EndedAt)

	limited, err := db.Sessions(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSessionNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = db.LoadSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, db.DeleteSession("missing"), ErrSessionNotFound)
}

func TestDeleteSession_CascadesResults(t *testing.T) {
	db := setupTestDB(t)
	s := recordSession(t, db, 15, 15)

	require.NoError(t, db.DeleteSession(s.ID))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM reading_results WHERE session_id = ?", s.ID).Scan(&n))
	assert.Zero(t, n)
}

func TestRecordResult_DuplicateSeqFails(t *testing.T) {
	db := setupTestDB(t)
	s := session.Start(timeutil.NewMockClock(t0), nil)
	require.NoError(t, db.StartSession(s))

	r := scoring.ScoreResult{Timestamp: t0, Observation: scoring.NewObservation(t0, nil)}
	require.NoError(t, db.RecordResult(s.ID, 0, r))
	assert.Error(t, db.RecordResult(s.ID, 0, r))
}

func TestBackup(t *testing.T) {
	db := setupTestDB(t)
	recordSession(t, db, 15)

	path := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, db.Backup(path))

	copyDB, err := OpenDB(path)
	require.NoError(t, err)
	defer copyDB.Close()
	all, err := copyDB.Sessions(0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestServeBackup_Gzipped(t *testing.T) {
	db := setupTestDB(t)

	rec := httptest.NewRecorder()
	db.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("SQLite format 3")))
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "1"}, path, &out))
	assert.Contains(t, out.String(), "version 1")

	assert.Error(t, RunMigrateCommand([]string{"version"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"version", "x"}, path, &out))
	assert.ErrorIs(t, RunMigrateCommand([]string{"sideways"}, path, &out), ErrUnknownMigrateAction)
	assert.Error(t, RunMigrateCommand(nil, path, &out))

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "Usage: reading migrate")
}
