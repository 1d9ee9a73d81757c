package main

import (
	"bytes"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/reading.report/internal/api"
	"github.com/banshee-data/reading.report/internal/httputil"
	"github.com/banshee-data/reading.report/internal/monitor"
	"github.com/banshee-data/reading.report/internal/monitoring"
	"github.com/banshee-data/reading.report/internal/scoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	log.SetOutput(&bytes.Buffer{})
	os.Exit(m.Run())
}

const fixturePath = "../../../fixtures.jsonl"

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestParseFormats(t *testing.T) {
	got, err := parseFormats(" JSON, csv,png,json ")
	require.NoError(t, err)
	assert.Equal(t, []string{"json", "csv", "png"}, got)

	_, err = parseFormats("json,pdf")
	assert.Error(t, err)
	_, err = parseFormats(",")
	assert.Error(t, err)
}

func TestRun_WritesAllFormats(t *testing.T) {
	out := t.TempDir()
	err := run(options{
		in:      fixturePath,
		outDir:  out,
		formats: []string{"json", "csv", "png", "html"},
		step:    time.Second,
	})
	require.NoError(t, err)

	for _, pattern := range []string{"session_*.json", "session_*.csv", "session_*_timeline.png", "session_*_timeline.html"} {
		matches, err := filepath.Glob(filepath.Join(out, pattern))
		require.NoError(t, err)
		assert.Len(t, matches, 1, pattern)
	}
}

func TestScore_FollowsRecordedTimestamps(t *testing.T) {
	obs, err := readObservations(fixturePath)
	require.NoError(t, err)

	s, rejected, err := score(scoring.DefaultConfig(), obs, time.Second, true, map[string]string{"source": "test"})
	require.NoError(t, err)
	assert.Zero(t, rejected)
	assert.Equal(t, len(obs), s.Len())
	assert.True(t, s.StartedAt.Equal(obs[0].Timestamp))
	assert.True(t, s.EndedAt.Equal(obs[len(obs)-1].Timestamp))
	assert.Equal(t, "test", s.Metadata["source"])

	// The strained middle of the fixture reaches at least the mild band.
	sum := s.Summary()
	assert.Greater(t, sum.MaxScore, scoring.MildThreshold)
}

func TestScore_UntimedRowsUseStep(t *testing.T) {
	path := writeCSV(t, "blink_rate,gaze_stability,head_pose_dev,fixation_duration\n15,0.8,3,250\n15,0.8,3,250\n15,0.8,3,250\n")
	obs, err := readObservations(path)
	require.NoError(t, err)

	s, _, err := score(scoring.DefaultConfig(), obs, 2*time.Second, true, nil)
	require.NoError(t, err)
	results := s.Results()
	require.Len(t, results, 3)
	assert.Equal(t, 2*time.Second, results[1].Timestamp.Sub(results[0].Timestamp))
	assert.Equal(t, 4*time.Second, s.Duration())
}

func TestScore_MissingFeature(t *testing.T) {
	path := writeCSV(t, "timestamp,blink_rate,gaze_stability,head_pose_dev,fixation_duration\n1,15,0.8,3,250\n2,,0.8,3,250\n3,15,0.8,3,250\n")
	obs, err := readObservations(path)
	require.NoError(t, err)

	s, rejected, err := score(scoring.DefaultConfig(), obs, time.Second, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 2, s.Len())

	_, _, err = score(scoring.DefaultConfig(), obs, time.Second, true, nil)
	var missing *scoring.MissingFeatureError
	assert.ErrorAs(t, err, &missing)
}

func TestRun_BadInput(t *testing.T) {
	assert.Error(t, run(options{in: "run.txt", outDir: t.TempDir(), formats: []string{"json"}}))
	assert.Error(t, run(options{in: fixturePath, configPath: "missing.json", outDir: t.TempDir(), formats: []string{"json"}}))
}

func TestStream(t *testing.T) {
	m, err := monitor.New(scoring.DefaultConfig())
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(m, nil).ServeMux())
	defer srv.Close()

	obs, err := readObservations(fixturePath)
	require.NoError(t, err)

	sum, rejected, err := stream(httputil.NewJSONClient(srv.URL, nil), obs, map[string]string{"source": "test"}, true)
	require.NoError(t, err)
	assert.Zero(t, rejected)
	assert.Equal(t, len(obs), sum.Total)
	assert.False(t, m.Running())
}

func TestStream_RejectsCounted(t *testing.T) {
	m, err := monitor.New(scoring.DefaultConfig())
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(m, nil).ServeMux())
	defer srv.Close()

	obs := []scoring.Observation{
		scoring.NewObservation(time.Time{}, map[string]float64{"gaze_stability": 0.8}),
	}
	c := httputil.NewJSONClient(srv.URL, nil)

	sum, rejected, err := stream(c, obs, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rejected)
	assert.Zero(t, sum.Total)

	_, _, err = stream(c, obs, nil, true)
	assert.Error(t, err)
	assert.False(t, m.Running(), "strict failure still stops the session")
}
