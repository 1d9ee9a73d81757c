package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/reading.report/internal/monitoring"
	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/session"
	"github.com/banshee-data/reading.report/internal/timeutil"
)

var t0 = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func obs(ts time.Time, blink float64) scoring.Observation {
	return scoring.NewObservation(ts, map[string]float64{
		scoring.FeatureBlinkRate:        blink,
		scoring.FeatureGazeStability:    0.8,
		scoring.FeatureHeadPoseDev:      3,
		scoring.FeatureFixationDuration: 250,
	})
}

type fakeRecorder struct {
	started []string
	results []int
	ended   []string
	err     error
}

func (f *fakeRecorder) StartSession(s *session.Session) error {
	f.started = append(f.started, s.ID)
	return f.err
}

func (f *fakeRecorder) RecordResult(_ string, seq int, _ scoring.ScoreResult) error {
	f.results = append(f.results, seq)
	return f.err
}

func (f *fakeRecorder) EndSession(s *session.Session) error {
	f.ended = append(f.ended, s.ID)
	return f.err
}

func newMonitor(t *testing.T, opts ...Option) (*Monitor, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(t0)
	m, err := New(scoring.DefaultConfig(), append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return m, clock
}

func TestLifecycle(t *testing.T) {
	rec := &fakeRecorder{}
	m, clock := newMonitor(t, WithRecorder(rec), WithMetadata(map[string]string{"version": "test"}))

	_, err := m.Process(obs(t0, 15))
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = m.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)

	s, err := m.Start(map[string]string{"reader": "r1"})
	require.NoError(t, err)
	assert.Equal(t, "test", s.Metadata["version"])
	assert.Equal(t, "r1", s.Metadata["reader"])

	_, err = m.Start(nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	var seen []float64
	m.OnResult(func(r scoring.ScoreResult) { seen = append(seen, r.Score) })

	for i := 0; i < 3; i++ {
		_, err := m.Process(obs(t0.Add(time.Duration(i)*time.Second), 5))
		require.NoError(t, err)
	}
	assert.Len(t, seen, 3)

	st := m.Status()
	assert.True(t, st.Running)
	assert.Equal(t, s.ID, st.SessionID)
	assert.Equal(t, 3, st.Samples)
	require.NotNil(t, st.Last)

	clock.Advance(time.Minute)
	done, err := m.Stop()
	require.NoError(t, err)
	assert.Same(t, s, done)
	assert.True(t, done.Sealed())
	assert.Equal(t, 3, done.Len())
	assert.False(t, m.Running())

	assert.Equal(t, []string{s.ID}, rec.started)
	assert.Equal(t, []int{0, 1, 2}, rec.results)
	assert.Equal(t, []string{s.ID}, rec.ended)
}

func TestProcess_OutOfOrder(t *testing.T) {
	m, _ := newMonitor(t)
	_, err := m.Start(nil)
	require.NoError(t, err)

	_, err = m.Process(obs(t0.Add(time.Second), 15))
	require.NoError(t, err)
	_, err = m.Process(obs(t0, 15))
	assert.ErrorIs(t, err, ErrOutOfOrder)

	// Equal timestamps are accepted.
	_, err = m.Process(obs(t0.Add(time.Second), 15))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Status().Rejected)
	assert.Equal(t, 2, m.Status().Samples)
}

func TestProcess_StampsZeroTimestamp(t *testing.T) {
	m, clock := newMonitor(t)
	_, err := m.Start(nil)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	res, err := m.Process(obs(time.Time{}, 15))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Second), res.Timestamp)
}

func TestProcess_MissingFeaturePropagates(t *testing.T) {
	m, _ := newMonitor(t)
	_, err := m.Start(nil)
	require.NoError(t, err)

	called := false
	m.OnResult(func(scoring.ScoreResult) { called = true })

	_, err = m.Process(scoring.NewObservation(t0, map[string]float64{scoring.FeatureGazeStability: 0.5}))
	var mfe *scoring.MissingFeatureError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, scoring.FeatureBlinkRate, mfe.Feature)
	assert.False(t, called)
	assert.Equal(t, 0, m.Status().Samples)
}

func TestRecorderErrorsDoNotHaltStream(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	m, _ := newMonitor(t, WithRecorder(rec))
	_, err := m.Start(nil)
	require.NoError(t, err)

	_, err = m.Process(obs(t0, 15))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Status().RecorderErrors)

	_, err = m.Stop()
	require.NoError(t, err)
}

func TestFreshWindowPerSession(t *testing.T) {
	m, _ := newMonitor(t)

	_, err := m.Start(nil)
	require.NoError(t, err)
	_, err = m.Process(obs(t0, 2))
	require.NoError(t, err)
	_, err = m.Stop()
	require.NoError(t, err)

	_, err = m.Start(nil)
	require.NoError(t, err)
	res, err := m.Process(obs(t0, 15))
	require.NoError(t, err)
	assert.Equal(t, 1, res.WindowLen)
	assert.Equal(t, 0.0, res.Score)
}

func TestCurrent(t *testing.T) {
	m, _ := newMonitor(t)
	assert.ErrorIs(t, m.Current(func(*session.Session) {}), ErrNotRunning)

	s, err := m.Start(nil)
	require.NoError(t, err)
	var id string
	require.NoError(t, m.Current(func(cur *session.Session) { id = cur.ID }))
	assert.Equal(t, s.ID, id)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := scoring.DefaultConfig()
	cfg.WindowSize = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestConfig(t *testing.T) {
	cfg := scoring.DefaultConfig()
	cfg.WindowSize = 5
	m, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Config().WindowSize)

	cfg.WindowSize = 0
	_, err = New(cfg)
	assert.Error(t, err)
}
