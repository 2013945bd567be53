package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/devansharora/fleetguard/internal/fleet"
)

// factoryLog is the per-factory append-only log plus current-status
// docs: one mutex-guarded slice per key, never mutated in place, only
// appended to.
type factoryLog struct {
	mu sync.Mutex

	heartbeats  []fleet.HeartbeatRecord
	readings    []fleet.SensorReading
	failovers   []fleet.FailoverEvent
	seenEvents  map[string]struct{} // EventID dedupe, mirrors the outbox idempotency-key window
	transitions []fleet.StatusTransition

	sensorStatus  map[string]SensorStatusDoc
	factoryHealth FactoryHealthDoc
	hasFactory    bool

	missedHeartbeats  int
	consecutiveHealthy int
}

// Memory is an in-memory Port implementation, used by tests. It is not
// durable across restarts.
type Memory struct {
	mu   sync.RWMutex
	logs map[string]*factoryLog
}

var _ Port = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{logs: map[string]*factoryLog{}}
}

func (m *Memory) logFor(factoryID string) *factoryLog {
	m.mu.RLock()
	l, ok := m.logs[factoryID]
	m.mu.RUnlock()
	if ok {
		return l
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.logs[factoryID]; ok {
		return l
	}
	l = &factoryLog{sensorStatus: map[string]SensorStatusDoc{}, seenEvents: map[string]struct{}{}}
	m.logs[factoryID] = l
	return l
}

func (m *Memory) RecordHeartbeat(ctx context.Context, hb fleet.HeartbeatRecord) error {
	l := m.logFor(hb.FactoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.heartbeats = append(l.heartbeats, hb)
	return nil
}

func (m *Memory) RecordReading(ctx context.Context, r fleet.SensorReading) error {
	l := m.logFor(r.FactoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readings = append(l.readings, r)
	return nil
}

func (m *Memory) UpsertSensorStatus(ctx context.Context, doc SensorStatusDoc) error {
	l := m.logFor(doc.FactoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sensorStatus[doc.SensorID] = doc
	return nil
}

func (m *Memory) UpsertFactoryHealth(ctx context.Context, doc FactoryHealthDoc) error {
	l := m.logFor(doc.Factory.FactoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factoryHealth = doc
	l.hasFactory = true
	return nil
}

func (m *Memory) AdjustCounters(ctx context.Context, factoryID string, missedDelta, healthyDelta int) (int, int, error) {
	l := m.logFor(factoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missedHeartbeats += missedDelta
	l.consecutiveHealthy += healthyDelta
	if l.missedHeartbeats < 0 {
		l.missedHeartbeats = 0
	}
	if l.consecutiveHealthy < 0 {
		l.consecutiveHealthy = 0
	}
	return l.missedHeartbeats, l.consecutiveHealthy, nil
}

func (m *Memory) ResetCounters(ctx context.Context, factoryID string) error {
	l := m.logFor(factoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missedHeartbeats = 0
	l.consecutiveHealthy = 0
	return nil
}

func (m *Memory) AppendFailoverEvent(ctx context.Context, ev fleet.FailoverEvent) error {
	l := m.logFor(ev.FactoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.EventID != "" {
		if _, dup := l.seenEvents[ev.EventID]; dup {
			return nil
		}
		l.seenEvents[ev.EventID] = struct{}{}
	}
	l.failovers = append(l.failovers, ev)
	return nil
}

func (m *Memory) AppendStatusTransition(ctx context.Context, tr fleet.StatusTransition) error {
	l := m.logFor(tr.FactoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, tr)
	return nil
}

func (m *Memory) LatestHeartbeat(ctx context.Context, sensorID string) (fleet.HeartbeatRecord, bool, error) {
	m.mu.RLock()
	logs := make([]*factoryLog, 0, len(m.logs))
	for _, l := range m.logs {
		logs = append(logs, l)
	}
	m.mu.RUnlock()

	var latest fleet.HeartbeatRecord
	found := false
	for _, l := range logs {
		l.mu.Lock()
		for _, hb := range l.heartbeats {
			if hb.SensorID == sensorID && (!found || hb.Timestamp.After(latest.Timestamp)) {
				latest = hb
				found = true
			}
		}
		l.mu.Unlock()
	}
	return latest, found, nil
}

func (m *Memory) HeartbeatsWithin(ctx context.Context, factoryID string, window time.Duration, now time.Time) ([]fleet.HeartbeatRecord, error) {
	l := m.logFor(factoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-window)
	var out []fleet.HeartbeatRecord
	for _, hb := range l.heartbeats {
		if hb.Timestamp.After(cutoff) {
			out = append(out, hb)
		}
	}
	return out, nil
}

func (m *Memory) LatestFactoryStatus(ctx context.Context, factoryID string) (FactoryHealthDoc, bool, error) {
	l := m.logFor(factoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.factoryHealth, l.hasFactory, nil
}

func (m *Memory) FailoverEvents(ctx context.Context, factoryID string) ([]fleet.FailoverEvent, error) {
	l := m.logFor(factoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]fleet.FailoverEvent, len(l.failovers))
	copy(out, l.failovers)
	return out, nil
}

func (m *Memory) StatusTransitions(ctx context.Context, factoryID string) ([]fleet.StatusTransition, error) {
	l := m.logFor(factoryID)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]fleet.StatusTransition, len(l.transitions))
	copy(out, l.transitions)
	return out, nil
}

func (m *Memory) Close(ctx context.Context) error { return nil }
