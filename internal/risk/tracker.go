package risk

import "sync"

const windowSize = 5

// sensorState is the per-sensor rolling window and latch.
type sensorState struct {
	window          []float64
	lowReadingCount int
	isAtRisk        bool
}

// TrackerConfig holds the tunables a Tracker needs, copied by the caller
// from config.Thresholds at construction time.
type TrackerConfig struct {
	Threshold       float64
	ConsecutiveLow  int
}

// Tracker maintains the §4.3 per-sensor at-risk detector: a rolling
// window of the last 5 readings, a consecutive-low-count, and a latch
// that only clears via an explicit Reset.
type Tracker struct {
	mu     sync.Mutex
	cfg    TrackerConfig
	states map[string]*sensorState
}

func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{cfg: cfg, states: map[string]*sensorState{}}
}

// Observation is returned by Observe so the caller (ingestion dispatch)
// knows whether a one-shot notification must be published.
type Observation struct {
	LowReadingCount int
	Window          []float64
	JustLatched     bool
	IsAtRisk        bool
}

// Observe records a new reading for sensorID and reports the tracker's
// state after incorporating it. JustLatched is true only on the single
// observation where low_reading_count first reaches the consecutive
// threshold: exactly one notification per latch, per §8.
func (t *Tracker) Observe(sensorID string, reading float64) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[sensorID]
	if !ok {
		s = &sensorState{}
		t.states[sensorID] = s
	}

	s.window = append(s.window, reading)
	if len(s.window) > windowSize {
		s.window = s.window[len(s.window)-windowSize:]
	}

	if reading < t.cfg.Threshold {
		s.lowReadingCount++
	} else {
		s.lowReadingCount = 0
	}

	justLatched := false
	if !s.isAtRisk && s.lowReadingCount >= t.cfg.ConsecutiveLow {
		s.isAtRisk = true
		justLatched = true
	}

	windowCopy := make([]float64, len(s.window))
	copy(windowCopy, s.window)

	return Observation{
		LowReadingCount: s.lowReadingCount,
		Window:          windowCopy,
		JustLatched:     justLatched,
		IsAtRisk:        s.isAtRisk,
	}
}

// Reset clears a sensor's tracker entirely, the only way is_at_risk may
// go from true back to false (§4.3: "factory restart").
func (t *Tracker) Reset(sensorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, sensorID)
}

// IsAtRisk reports the current latch state without mutating it.
func (t *Tracker) IsAtRisk(sensorID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[sensorID]
	return ok && s.isAtRisk
}
