// Package supervisor implements the Timer/Supervisor (§4.7): a single
// 1 Hz tick performing, in order, timeout scan -> fault detection ->
// risk prediction -> preemptive rebalance -> recovery scan -> override
// expiry.
package supervisor

import (
	"context"
	"time"

	"github.com/devansharora/fleetguard/internal/factoryhealth"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/observ"
	"github.com/devansharora/fleetguard/internal/persistence"
	"github.com/devansharora/fleetguard/internal/risk"
	"github.com/devansharora/fleetguard/internal/sensorstore"
)

// FailoverTrigger is the subset of the failover orchestrator the
// supervisor drives; kept as a narrow interface so this package never
// imports internal/failover directly (failover imports supervisor's
// sibling packages, not the other way around).
type FailoverTrigger interface {
	Trigger(ctx context.Context, factoryID, reason string)
	PreemptiveRebalance(ctx context.Context, factoryID string)
}

// RecoveryChecker is the subset of the recovery orchestrator the
// supervisor drives.
type RecoveryChecker interface {
	Check(ctx context.Context, factoryID string)
}

// RiskInputFunc assembles a risk.FactoryInput for a factory from
// whatever telemetry sources the caller wires up (error rate, latency
// window, resource usage); the supervisor has no opinion on where those
// numbers come from.
type RiskInputFunc func(factoryID string) risk.FactoryInput

// Supervisor runs the periodic tick.
type Supervisor struct {
	store    *sensorstore.Store
	agg      *factoryhealth.Aggregator
	engine   *risk.Engine
	failover FailoverTrigger
	recovery RecoveryChecker
	riskIn   RiskInputFunc
	persist  persistence.Port

	heartbeatTimeout time.Duration
	recoveryWindow   int
	interval         time.Duration
}

// New builds a Supervisor. heartbeatTimeout and recoveryWindow drive the
// factory-level missed_heartbeats/consecutive_healthy bookkeeping (§6,
// §4.5): a factory with no heartbeat within heartbeatTimeout counts as
// missed; recoveryWindow caps how high consecutive_healthy needs to
// climb (the Recovery Orchestrator's own threshold decides when to act).
func New(store *sensorstore.Store, agg *factoryhealth.Aggregator, engine *risk.Engine, failover FailoverTrigger, recovery RecoveryChecker, riskIn RiskInputFunc, persist persistence.Port, heartbeatTimeout time.Duration, recoveryWindow int, interval time.Duration) *Supervisor {
	return &Supervisor{
		store:            store,
		agg:              agg,
		engine:           engine,
		failover:         failover,
		recovery:         recovery,
		riskIn:           riskIn,
		persist:          persist,
		heartbeatTimeout: heartbeatTimeout,
		recoveryWindow:   recoveryWindow,
		interval:         interval,
	}
}

// Run drives the tick until ctx is cancelled. A slow or failing tick
// never blocks the caller past one interval: Tick itself is synchronous
// but bounded, matching §5's "tick execution is bounded and may never
// block the ingestion loop" (ingestion and supervisor are separate
// tasks; only the tick's own cost is this loop's concern).
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick performs one full pass in the order §4.7 mandates.
func (s *Supervisor) Tick(ctx context.Context, now time.Time) {
	factoryIDs := s.store.FactoryIDs()

	timedOut := s.store.ScanTimeouts(now)
	if len(timedOut) > 0 {
		observ.Log("supervisor_timeout_scan", map[string]any{"count": len(timedOut)})
	}

	for _, id := range factoryIDs {
		s.recordHeartbeatOutcome(ctx, id, now)
	}

	factories := make(map[string]fleet.Factory, len(factoryIDs))
	for _, id := range factoryIDs {
		factories[id] = s.agg.Derive(id, now)
	}

	anyOperational := func(except string) bool {
		for id, f := range factories {
			if id != except && (f.Status == fleet.FactoryOperational) {
				return true
			}
		}
		return false
	}

	for _, id := range factoryIDs {
		f := factories[id]

		if f.Status == fleet.FactoryDown || f.Status == fleet.FactoryCritical {
			s.failover.Trigger(ctx, id, "factory fault detected: status="+string(f.Status))
			continue
		}

		if s.riskIn == nil || s.engine == nil {
			continue
		}
		_, level := s.engine.Score(s.riskIn(id))
		s.agg.SetRisk(id, level)
		if risk.ShouldPreemptivelyRebalance(level, anyOperational(id)) {
			s.failover.PreemptiveRebalance(ctx, id)
		}
	}

	for _, id := range factoryIDs {
		s.recovery.Check(ctx, id)
	}

	s.store.ExpireOverrides(now)
}

// recordHeartbeatOutcome implements the legacy missed_heartbeats/
// consecutive_healthy bookkeeping (§6, §4.2's "legacy heartbeat-only
// model driven by missed_heartbeats vs threshold = 3"): a factory with
// no heartbeat at all yet is left alone (neither missed nor healthy), a
// factory whose most recent sensor heartbeat is within heartbeatTimeout
// counts as on time, otherwise as missed. Updates both the aggregator's
// cached counters (read by the Recovery Orchestrator and the risk
// engine's heartbeat_stability factor) and the durable counters.
func (s *Supervisor) recordHeartbeatOutcome(ctx context.Context, factoryID string, now time.Time) {
	last, ok := s.store.FactoryLastHeartbeat(factoryID)
	if !ok {
		return
	}
	onTime := now.Sub(last) <= s.heartbeatTimeout

	s.agg.RecordHeartbeatOutcome(factoryID, onTime, s.recoveryWindow)

	if s.persist == nil {
		return
	}
	missedDelta, healthyDelta := 1, persistence.ResetDelta
	if onTime {
		missedDelta, healthyDelta = persistence.ResetDelta, 1
	}
	if _, _, err := s.persist.AdjustCounters(ctx, factoryID, missedDelta, healthyDelta); err != nil {
		observ.Error("persistence_write_failed", map[string]any{"op": "adjust_counters", "error": err.Error()})
	}
}
