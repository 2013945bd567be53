// Package factoryhealth derives factory-level status from sensor counts
// (§4.2). It is a pure function of its inputs plus a small amount of
// last-value memory so it can detect and emit transitions.
package factoryhealth

import (
	"sync"
	"time"

	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/observ"
	"github.com/devansharora/fleetguard/internal/sensorstore"
)

// TransitionFunc is invoked once per factory-status transition, never on
// a no-op recompute (§4.2 invariant: "idempotent recompute").
type TransitionFunc func(fleet.StatusTransition)

// Aggregator derives and caches factory-level status.
type Aggregator struct {
	store      *sensorstore.Store
	thresholds config.Thresholds

	mu       sync.Mutex
	last     map[string]fleet.Factory
	onChange TransitionFunc
}

func New(store *sensorstore.Store, thresholds config.Thresholds, onChange TransitionFunc) *Aggregator {
	return &Aggregator{
		store:      store,
		thresholds: thresholds,
		last:       map[string]fleet.Factory{},
		onChange:   onChange,
	}
}

// Derive computes the current status of a factory from a snapshot of its
// sensors (pure given the snapshot), caches it, and emits a transition if
// the status actually changed.
func (a *Aggregator) Derive(factoryID string, now time.Time) fleet.Factory {
	snap := a.store.Snapshot(factoryID)

	f := fleet.Factory{FactoryID: factoryID, Total: len(snap)}
	for _, sn := range snap {
		switch sn.Status {
		case fleet.SensorOK:
			f.OK++
		case fleet.SensorWarning:
			f.Warning++
		case fleet.SensorFailed:
			f.Failed++
		}
	}
	f.Status = classify(f, a.thresholds)

	a.mu.Lock()
	defer a.mu.Unlock()
	prev, existed := a.last[factoryID]
	f.MissedHeartbeats = prev.MissedHeartbeats
	f.ConsecutiveHealthy = prev.ConsecutiveHealthy
	f.Risk = prev.Risk
	a.last[factoryID] = f

	if !existed || prev.Status != f.Status {
		if a.onChange != nil {
			a.onChange(fleet.StatusTransition{
				FactoryID: factoryID,
				From:      prev.Status,
				To:        f.Status,
				Reason:    transitionReason(f),
				Timestamp: now,
			})
		}
		observ.Log("factory_status_transition", map[string]any{
			"factory_id": factoryID, "from": string(prev.Status), "to": string(f.Status),
		})
	}
	return f
}

// classify implements the §4.2 percentage bands. Empty factories are
// OPERATIONAL (vacuously healthy, mirrors Factory.HealthPct's convention).
func classify(f fleet.Factory, t config.Thresholds) fleet.FactoryStatus {
	if f.Total == 0 {
		return fleet.FactoryOperational
	}
	if f.Failed == f.Total {
		return fleet.FactoryDown
	}
	pct := f.HealthPct()
	switch {
	case pct >= t.FactoryOperationalPct:
		return fleet.FactoryOperational
	case pct >= t.FactoryDegradedPct:
		return fleet.FactoryDegraded
	case pct >= t.FactoryCriticalPct:
		return fleet.FactoryCritical
	default:
		return fleet.FactoryDown
	}
}

func transitionReason(f fleet.Factory) string {
	return "health_pct=" + formatPct(f.HealthPct())
}

func formatPct(pct float64) string {
	whole := int(pct)
	frac := int((pct - float64(whole)) * 10)
	if frac < 0 {
		frac = -frac
	}
	return itoa(whole) + "." + itoa(frac)
}

func itoa(n int) string {
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

// Last returns the most recently derived status for a factory without
// recomputing it.
func (a *Aggregator) Last(factoryID string) (fleet.Factory, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.last[factoryID]
	return f, ok
}

// SetRisk records the risk engine's latest classification for a factory
// so backup selection (§4.4 step 4) can rank candidates by risk instead
// of every candidate carrying the zero-value rank.
func (a *Aggregator) SetRisk(factoryID string, level fleet.RiskLevel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.last[factoryID]
	if !ok {
		return
	}
	f.Risk = level
	a.last[factoryID] = f
}

// RecordHeartbeatOutcome adjusts the cached missed_heartbeats/
// consecutive_healthy counters for a factory-level heartbeat check
// (§6 heartbeat_timeout, distinct from the per-sensor §4.1 sensor
// timeout): an on-time check resets missed_heartbeats and increments
// consecutive_healthy up to healthyCap; a missed check resets
// consecutive_healthy and increments missed_heartbeats. The two never
// simultaneously exceed zero (§3 invariant).
func (a *Aggregator) RecordHeartbeatOutcome(factoryID string, onTime bool, healthyCap int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.last[factoryID]
	if !ok {
		f = fleet.Factory{FactoryID: factoryID}
	}
	if onTime {
		f.MissedHeartbeats = 0
		if f.ConsecutiveHealthy < healthyCap {
			f.ConsecutiveHealthy++
		}
	} else {
		f.ConsecutiveHealthy = 0
		f.MissedHeartbeats++
	}
	a.last[factoryID] = f
}
