package scoring

// ScoreWindow is a bounded FIFO of the most recent observations. Once full,
// each Push evicts the oldest entry. It is not safe for concurrent use.
type ScoreWindow struct {
	buf   []Observation
	start int
	n     int
}

// NewScoreWindow creates a window holding at most capacity observations.
// Capacities below one are raised to one.
func NewScoreWindow(capacity int) *ScoreWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &ScoreWindow{buf: make([]Observation, capacity)}
}

// Push appends o, returning the evicted observation when the window was full.
func (w *ScoreWindow) Push(o Observation) (evicted Observation, ok bool) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = o
		w.n++
		return Observation{}, false
	}
	evicted = w.buf[w.start]
	w.buf[w.start] = o
	w.start = (w.start + 1) % len(w.buf)
	return evicted, true
}

// Len is the number of observations held.
func (w *ScoreWindow) Len() int { return w.n }

// Cap is the configured capacity.
func (w *ScoreWindow) Cap() int { return len(w.buf) }

// At returns the i-th observation, oldest first.
func (w *ScoreWindow) At(i int) Observation {
	if i < 0 || i >= w.n {
		panic("scoring: window index out of range")
	}
	return w.buf[(w.start+i)%len(w.buf)]
}

// Snapshot returns the held observations, oldest first.
func (w *ScoreWindow) Snapshot() []Observation {
	out := make([]Observation, w.n)
	for i := range out {
		out[i] = w.At(i)
	}
	return out
}

// Reset drops every observation.
func (w *ScoreWindow) Reset() {
	for i := range w.buf {
		w.buf[i] = Observation{}
	}
	w.start, w.n = 0, 0
}
