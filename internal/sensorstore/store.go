// Package sensorstore is the Sensor Health Store (§4.1): per-sensor
// last-seen/status tracking, per-factory membership, and timeout
// detection.
package sensorstore

import (
	"sync"
	"time"

	"github.com/devansharora/fleetguard/internal/ferrors"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/observ"
)

// partition holds every sensor belonging to one factory behind its own
// lock, so aggregation over a factory's sensors (§5: "aggregation reads
// a consistent snapshot") never races with a concurrent update to a
// sibling factory's sensors.
type partition struct {
	mu      sync.Mutex
	sensors map[string]*fleet.Sensor
}

// Store is the process-wide sensor health store.
type Store struct {
	mu         sync.RWMutex // guards the partitions map itself, not its contents
	partitions map[string]*partition

	sensorTimeout time.Duration
}

// New creates an empty store. sensorTimeout is the §6 "sensor timeout"
// used by ScanTimeouts.
func New(sensorTimeout time.Duration) *Store {
	return &Store{
		partitions:    map[string]*partition{},
		sensorTimeout: sensorTimeout,
	}
}

func (s *Store) partitionFor(factoryID string) *partition {
	s.mu.RLock()
	p, ok := s.partitions[factoryID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[factoryID]; ok {
		return p
	}
	p = &partition{sensors: map[string]*fleet.Sensor{}}
	s.partitions[factoryID] = p
	return p
}

// Register creates a sensor in OK status if it doesn't already exist.
// Idempotent: re-registering an existing sensor is a no-op.
func (s *Store) Register(sensorID, factoryID, tier string) *fleet.Sensor {
	p := s.partitionFor(factoryID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if sn, ok := p.sensors[sensorID]; ok {
		return sn
	}
	sn := fleet.NewSensor(sensorID, factoryID, tier)
	p.sensors[sensorID] = sn
	return sn
}

// OnHeartbeat updates last_seen for a sensor, registering it lazily if
// this is the first signal seen from it. A heartbeat never clears FAILED
// (§4.1 invariant).
func (s *Store) OnHeartbeat(sensorID, factoryID, tier string, ts time.Time) {
	p := s.partitionFor(factoryID)
	p.mu.Lock()
	defer p.mu.Unlock()

	sn, ok := p.sensors[sensorID]
	if !ok {
		sn = fleet.NewSensor(sensorID, factoryID, tier)
		p.sensors[sensorID] = sn
	}
	t := ts
	sn.LastSeen = &t
}

// OnReading updates last_seen and may transition OK<->WARNING<->FAILED
// according to the caller-derived status, unless a manual override is
// currently protecting the sensor from that transition.
func (s *Store) OnReading(sensorID, factoryID, tier string, status fleet.SensorStatus, ts time.Time) {
	p := s.partitionFor(factoryID)
	p.mu.Lock()
	defer p.mu.Unlock()

	sn, ok := p.sensors[sensorID]
	if !ok {
		sn = fleet.NewSensor(sensorID, factoryID, tier)
		p.sensors[sensorID] = sn
	}
	t := ts
	sn.LastSeen = &t

	if sn.OverrideActive(ts) {
		return
	}
	// Expire a stale override lazily before applying the new status.
	if sn.ManualOverrideExpiry != nil && !ts.Before(*sn.ManualOverrideExpiry) {
		sn.ManualOverrideExpiry = nil
	}

	if status == fleet.SensorFailed && sn.Status != fleet.SensorFailed {
		sn.Status = fleet.SensorFailed
		sn.FailureReason = "reading below failure threshold"
		sn.FailureTS = &t
		assertFailedInvariant(sn)
		observ.Log("sensor_failed", map[string]any{"sensor_id": sensorID, "factory_id": factoryID, "reason": sn.FailureReason})
		return
	}
	if sn.Status == fleet.SensorFailed {
		// A plain reading never auto-recovers a FAILED sensor.
		return
	}
	sn.Status = status
}

// MarkFailed forces a sensor to FAILED regardless of its current status,
// recording the failure reason and timestamp. Unconditional: overrides
// are not consulted (§4.1: "mark_failed is unconditional").
func (s *Store) MarkFailed(sensorID, factoryID, reason string, ts time.Time) bool {
	p := s.partitionFor(factoryID)
	p.mu.Lock()
	defer p.mu.Unlock()

	sn, ok := p.sensors[sensorID]
	if !ok {
		sn = fleet.NewSensor(sensorID, factoryID, "")
		p.sensors[sensorID] = sn
	}
	if sn.Status == fleet.SensorFailed {
		return false
	}
	t := ts
	sn.Status = fleet.SensorFailed
	sn.FailureReason = reason
	sn.FailureTS = &t
	assertFailedInvariant(sn)
	observ.Log("sensor_failed", map[string]any{"sensor_id": sensorID, "factory_id": factoryID, "reason": reason})
	return true
}

// OverrideStatus sets status and protects it from auto-recovery until
// now+duration. Expiry is lazy: it is only observed the next time a
// reading or scan touches the sensor.
func (s *Store) OverrideStatus(sensorID, factoryID string, status fleet.SensorStatus, now time.Time, duration time.Duration) {
	p := s.partitionFor(factoryID)
	p.mu.Lock()
	defer p.mu.Unlock()

	sn, ok := p.sensors[sensorID]
	if !ok {
		sn = fleet.NewSensor(sensorID, factoryID, "")
		p.sensors[sensorID] = sn
	}
	sn.Status = status
	if status == fleet.SensorFailed && (sn.FailureReason == "" || sn.FailureTS == nil) {
		t := now
		sn.FailureReason = "manual override"
		sn.FailureTS = &t
	}
	assertFailedInvariant(sn)
	expiry := now.Add(duration)
	sn.ManualOverrideExpiry = &expiry
}

// ScanTimeouts transitions every sensor whose last_seen is strictly
// older than the configured sensor timeout to FAILED, and returns the
// ids newly failed. A sensor exactly at the boundary (now-lastSeen ==
// timeout) is NOT yet failed (§8 boundary behaviour).
func (s *Store) ScanTimeouts(now time.Time) []string {
	var failed []string

	s.mu.RLock()
	partitions := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		partitions = append(partitions, p)
	}
	s.mu.RUnlock()

	for _, p := range partitions {
		p.mu.Lock()
		for id, sn := range p.sensors {
			if sn.LastSeen == nil || sn.Status == fleet.SensorFailed {
				continue
			}
			if sn.OverrideActive(now) {
				continue
			}
			elapsed := now.Sub(*sn.LastSeen)
			if elapsed > s.sensorTimeout {
				sn.Status = fleet.SensorFailed
				sn.FailureReason = fleetTimeoutReason(elapsed)
				t := now
				sn.FailureTS = &t
				assertFailedInvariant(sn)
				failed = append(failed, id)
				observ.Log("sensor_timeout", map[string]any{"sensor_id": id, "factory_id": sn.FactoryID, "elapsed_s": elapsed.Seconds()})
			}
		}
		p.mu.Unlock()
	}
	return failed
}

// assertFailedInvariant panics with *ferrors.InvariantViolation if sn is
// FAILED without a failure_reason and failure_ts, a state §4.1 says must
// never be observable: every caller that sets SensorFailed must supply
// both, and a bug that slips one through should stop the process rather
// than let downstream consumers read a FAILED sensor with no reason.
func assertFailedInvariant(sn *fleet.Sensor) {
	if sn.Status != fleet.SensorFailed {
		return
	}
	if sn.FailureReason == "" || sn.FailureTS == nil {
		panic(&ferrors.InvariantViolation{
			Invariant: "status=FAILED implies failure_reason != null",
			Detail:    "sensor_id=" + sn.SensorID + " factory_id=" + sn.FactoryID,
		})
	}
}

func fleetTimeoutReason(elapsed time.Duration) string {
	return "heartbeat timeout " + formatSeconds(elapsed) + "s"
}

func formatSeconds(d time.Duration) string {
	// One decimal place, no stdlib strconv/fmt dependency needed for it.
	secs := d.Seconds()
	whole := int64(secs)
	frac := int64((secs - float64(whole)) * 10)
	if frac < 0 {
		frac = -frac
	}
	return itoa(whole) + "." + itoa(frac)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RecoverAll clears FAILED -> OK for every listed sensor id belonging to
// factoryID. Unknown ids are ignored. Safe to call concurrently for the
// same factory from duplicate restart messages: the second call observes
// already-OK sensors and changes nothing (§8 scenario 6).
func (s *Store) RecoverAll(factoryID string, ids []string) {
	p := s.partitionFor(factoryID)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		sn, ok := p.sensors[id]
		if !ok {
			continue
		}
		sn.Status = fleet.SensorOK
		sn.FailureReason = ""
		sn.FailureTS = nil
		sn.ManualOverrideExpiry = nil
	}
}

// ExpireOverrides clears manual_override_expiry for every sensor whose
// override has lapsed as of now, across all factories. Called from the
// supervisor tick (§4.7).
func (s *Store) ExpireOverrides(now time.Time) {
	s.mu.RLock()
	partitions := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		partitions = append(partitions, p)
	}
	s.mu.RUnlock()

	for _, p := range partitions {
		p.mu.Lock()
		for _, sn := range p.sensors {
			if sn.ManualOverrideExpiry != nil && !now.Before(*sn.ManualOverrideExpiry) {
				sn.ManualOverrideExpiry = nil
			}
		}
		p.mu.Unlock()
	}
}

// Snapshot returns a consistent copy of every sensor in a factory, used
// by the Factory Health Aggregator to derive factory-level status (§5:
// "implementers must ensure... all effects... are visible").
func (s *Store) Snapshot(factoryID string) []fleet.Sensor {
	p := s.partitionFor(factoryID)
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]fleet.Sensor, 0, len(p.sensors))
	for _, sn := range p.sensors {
		out = append(out, *sn)
	}
	return out
}

// Get returns a copy of a single sensor's current state.
func (s *Store) Get(sensorID, factoryID string) (fleet.Sensor, bool) {
	p := s.partitionFor(factoryID)
	p.mu.Lock()
	defer p.mu.Unlock()
	sn, ok := p.sensors[sensorID]
	if !ok {
		return fleet.Sensor{}, false
	}
	return *sn, true
}

// FactoryLastHeartbeat returns the most recent last_seen across every
// sensor belonging to factoryID, or ok=false if none has reported yet.
// Used by the supervisor's factory-level missed_heartbeats/
// consecutive_healthy bookkeeping (§6), distinct from the per-sensor
// timeout ScanTimeouts drives.
func (s *Store) FactoryLastHeartbeat(factoryID string) (time.Time, bool) {
	p := s.partitionFor(factoryID)
	p.mu.Lock()
	defer p.mu.Unlock()
	var latest time.Time
	found := false
	for _, sn := range p.sensors {
		if sn.LastSeen != nil && (!found || sn.LastSeen.After(latest)) {
			latest = *sn.LastSeen
			found = true
		}
	}
	return latest, found
}

// FactoryIDs returns every factory the store currently has sensors for.
func (s *Store) FactoryIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	return ids
}
