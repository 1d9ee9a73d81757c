// Package monitor runs detection sessions: it is the single owner of the
// current Scorer and Session and feeds each observation through them in
// timestamp order.
package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/reading.report/internal/monitoring"
	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/session"
	"github.com/banshee-data/reading.report/internal/timeutil"
)

var (
	ErrNotRunning     = errors.New("no detection session is running")
	ErrAlreadyRunning = errors.New("a detection session is already running")
	ErrOutOfOrder     = errors.New("observation is older than the previous one")
)

// Recorder persists session lifecycle events and results. Failures are logged
// and counted but never halt the stream.
type Recorder interface {
	StartSession(s *session.Session) error
	RecordResult(sessionID string, seq int, r scoring.ScoreResult) error
	EndSession(s *session.Session) error
}

// ResultFunc is notified synchronously of every result.
type ResultFunc func(scoring.ScoreResult)

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the real clock.
func WithClock(c timeutil.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithRecorder attaches a persistence collaborator.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithMetadata sets metadata merged into every session started.
func WithMetadata(md map[string]string) Option {
	return func(m *Monitor) {
		for k, v := range md {
			m.metadata[k] = v
		}
	}
}

// Status is a point-in-time snapshot of the monitor.
type Status struct {
	Running        bool                 `json:"running"`
	SessionID      string               `json:"session_id,omitempty"`
	StartedAt      time.Time            `json:"started_at"`
	Samples        int                  `json:"samples"`
	Rejected       int                  `json:"rejected"`
	RecorderErrors int                  `json:"recorder_errors"`
	Last           *scoring.ScoreResult `json:"last,omitempty"`
}

// Monitor serialises every caller behind one mutex. Listeners run inside that
// lock and must not call back into the Monitor.
type Monitor struct {
	cfg      scoring.Config
	clock    timeutil.Clock
	recorder Recorder
	metadata map[string]string

	mu        sync.Mutex
	listeners []ResultFunc
	scorer    *scoring.Scorer
	current   *session.Session
	lastTS    time.Time
	rejected  int
	recErrors int
}

// New validates cfg and returns an idle Monitor.
func New(cfg scoring.Config, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scorer config: %w", err)
	}
	m := &Monitor{
		cfg:      cfg,
		clock:    timeutil.RealClock{},
		metadata: map[string]string{},
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Config returns the scorer parameters each session starts with.
func (m *Monitor) Config() scoring.Config { return m.cfg }

// OnResult registers fn. Listeners are called in registration order.
func (m *Monitor) OnResult(fn ResultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start opens a session with a fresh scoring window.
func (m *Monitor) Start(metadata map[string]string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return nil, ErrAlreadyRunning
	}

	scorer, err := scoring.NewScorer(m.cfg)
	if err != nil {
		return nil, err
	}
	md := make(map[string]string, len(m.metadata)+len(metadata))
	for k, v := range m.metadata {
		md[k] = v
	}
	for k, v := range metadata {
		md[k] = v
	}

	s := session.Start(m.clock, md)
	m.scorer = scorer
	m.current = s
	m.lastTS = time.Time{}
	m.rejected = 0
	m.recErrors = 0

	if m.recorder != nil {
		if err := m.recorder.StartSession(s); err != nil {
			m.recErrors++
			monitoring.Logf("session %s: recorder start failed: %v", s.ID, err)
		}
	}
	monitoring.Logf("session %s started", s.ID)
	return s, nil
}

// Process scores one observation within the running session. A zero
// timestamp is stamped with the clock.
func (m *Monitor) Process(o scoring.Observation) (scoring.ScoreResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return scoring.ScoreResult{}, ErrNotRunning
	}

	if o.Timestamp.IsZero() {
		o = o.WithTimestamp(m.clock.Now())
	}
	if !m.lastTS.IsZero() && o.Timestamp.Before(m.lastTS) {
		m.rejected++
		return scoring.ScoreResult{}, fmt.Errorf("%w: %s before %s", ErrOutOfOrder,
			o.Timestamp.Format(time.RFC3339Nano), m.lastTS.Format(time.RFC3339Nano))
	}

	res, err := m.scorer.Process(o)
	if err != nil {
		m.rejected++
		return scoring.ScoreResult{}, err
	}
	m.lastTS = o.Timestamp

	if err := m.current.Record(res); err != nil {
		return scoring.ScoreResult{}, err
	}
	for _, fn := range m.listeners {
		fn(res)
	}
	if m.recorder != nil {
		if err := m.recorder.RecordResult(m.current.ID, m.current.Len()-1, res); err != nil {
			m.recErrors++
			monitoring.Logf("session %s: recorder result failed: %v", m.current.ID, err)
		}
	}
	return res, nil
}

// Stop seals and returns the running session.
func (m *Monitor) Stop() (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNotRunning
	}

	s := m.current
	if err := s.Stop(); err != nil {
		return nil, err
	}
	m.current = nil
	m.scorer = nil

	if m.recorder != nil {
		if err := m.recorder.EndSession(s); err != nil {
			m.recErrors++
			monitoring.Logf("session %s: recorder end failed: %v", s.ID, err)
		}
	}
	monitoring.Logf("session %s stopped: %d samples in %s", s.ID, s.Len(), s.Duration())
	return s, nil
}

// Running reports whether a session is open.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Current calls fn with the open session while holding the lock.
func (m *Monitor) Current(fn func(*session.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNotRunning
	}
	fn(m.current)
	return nil
}

// Status returns a snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Rejected: m.rejected, RecorderErrors: m.recErrors}
	if m.current == nil {
		return st
	}
	st.Running = true
	st.SessionID = m.current.ID
	st.StartedAt = m.current.StartedAt
	st.Samples = m.current.Len()
	if last, ok := m.current.Last(); ok {
		st.Last = &last
	}
	return st
}
