// Package failover implements the Failover and Recovery Orchestrators
// (§4.4, §4.5) as one unit: they share the active_failovers/
// recovering_factories sets and the PMS port, since both need the same
// test-and-set guard to stay idempotent under concurrent ticks.
package failover

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devansharora/fleetguard/internal/factoryhealth"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/observ"
	"github.com/devansharora/fleetguard/internal/persistence"
	"github.com/devansharora/fleetguard/internal/pms"
)

// Callback is invoked after a failover completes, carrying the factory,
// the reason, the selected backup (if any), and the PMS result.
type Callback func(factory fleet.Factory, reason string, backup *string, result pms.Result)

// RecoveryCallback is invoked after a recovery completes.
type RecoveryCallback func(factory fleet.Factory, previousStatus fleet.FactoryStatus)

// Orchestrator owns both failover and recovery. active_failovers and
// recovering_factories are two process-wide sets guarded by one mutex,
// each with atomic test-and-set semantics.
type Orchestrator struct {
	agg      *factoryhealth.Aggregator
	persist  persistence.Port
	pmsPort  *pms.Port
	lister   func() []string

	recoveryConsecutiveHealthy int

	mu                  sync.Mutex
	activeFailovers     map[string]struct{}
	recoveringFactories map[string]struct{}

	onFailover Callback
	onRecovery RecoveryCallback
}

// New builds an Orchestrator. lister enumerates every known factory id
// for backup selection (§4.4 step 4); the composition root wires it to
// the sensor store's FactoryIDs.
func New(agg *factoryhealth.Aggregator, persist persistence.Port, pmsPort *pms.Port, lister func() []string, recoveryConsecutiveHealthy int, onFailover Callback, onRecovery RecoveryCallback) *Orchestrator {
	return &Orchestrator{
		agg:                        agg,
		persist:                    persist,
		pmsPort:                    pmsPort,
		lister:                     lister,
		recoveryConsecutiveHealthy: recoveryConsecutiveHealthy,
		activeFailovers:            map[string]struct{}{},
		recoveringFactories:        map[string]struct{}{},
		onFailover:                 onFailover,
		onRecovery:                 onRecovery,
	}
}

// Trigger implements §4.4 trigger(factory_id, reason).
func (o *Orchestrator) Trigger(ctx context.Context, factoryID, reason string) {
	o.run(ctx, factoryID, reason, fleet.FactoryDown)
}

// PreemptiveRebalance implements §4.4 preemptive_rebalance(f): same
// mechanics as trigger but targets DEGRADED with a fixed reason.
func (o *Orchestrator) PreemptiveRebalance(ctx context.Context, factoryID string) {
	o.run(ctx, factoryID, "preemptive rebalance", fleet.FactoryDegraded)
}

func (o *Orchestrator) run(ctx context.Context, factoryID, reason string, targetStatus fleet.FactoryStatus) {
	if !o.testAndSetActive(factoryID) {
		return // already in progress
	}
	defer o.clearActive(factoryID)

	now := time.Now()
	backup := o.selectBackup(factoryID)
	ev := fleet.FailoverEvent{EventID: uuid.NewString(), FactoryID: factoryID, Reason: reason, Target: backup, Timestamp: now}
	if err := o.persist.AppendFailoverEvent(ctx, ev); err != nil {
		observ.Error("persistence_write_failed", map[string]any{"op": "append_failover_event", "error": err.Error()})
	}

	result, err := o.pmsPort.ReportStatus(ctx, factoryID, targetStatus.LegacyStatus(), reason)
	if err != nil {
		observ.Warn("failover_pms_notify_failed", map[string]any{"factory_id": factoryID, "error": err.Error()})
	}

	prev, _ := o.agg.Last(factoryID)
	f := prev
	f.Status = targetStatus
	f.FactoryID = factoryID
	if err := o.persist.UpsertFactoryHealth(ctx, persistence.FactoryHealthDoc{Factory: f, UpdatedAt: now}); err != nil {
		observ.Error("persistence_write_failed", map[string]any{"op": "upsert_factory_health", "error": err.Error()})
	}

	observ.Log("failover_triggered", map[string]any{"factory_id": factoryID, "reason": reason, "backup": backup})
	if o.onFailover != nil {
		o.onFailover(f, reason, backup, result)
	}
}

// selectBackup implements §4.4 step 4: operational factories other than
// the failed one, sorted by (risk_rank, factory_id) ascending, first one
// wins. Returns nil if there is no candidate.
func (o *Orchestrator) selectBackup(failedFactoryID string) *string {
	type candidate struct {
		id   string
		rank int
	}
	var candidates []candidate
	// Last() only returns what this process has derived; this walks its
	// own cache rather than querying persistence, matching the
	// in-memory snapshot semantics §5 requires for aggregation reads.
	for _, id := range o.knownFactories() {
		if id == failedFactoryID {
			continue
		}
		f, ok := o.agg.Last(id)
		if !ok || f.Status != fleet.FactoryOperational {
			continue
		}
		candidates = append(candidates, candidate{id: id, rank: f.Risk.RiskRank()})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank < candidates[j].rank
		}
		return candidates[i].id < candidates[j].id
	})
	return &candidates[0].id
}

func (o *Orchestrator) knownFactories() []string {
	if o.lister == nil {
		return nil
	}
	return o.lister()
}

func (o *Orchestrator) testAndSetActive(factoryID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.activeFailovers[factoryID]; exists {
		return false
	}
	o.activeFailovers[factoryID] = struct{}{}
	return true
}

func (o *Orchestrator) clearActive(factoryID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeFailovers, factoryID)
}

// Check implements §4.5 check/handle: consecutive_healthy >= threshold
// and current status != UP triggers a one-shot recovery.
func (o *Orchestrator) Check(ctx context.Context, factoryID string) {
	f, ok := o.agg.Last(factoryID)
	if !ok || f.Status == fleet.FactoryOperational {
		return
	}
	if f.ConsecutiveHealthy < o.recoveryConsecutiveHealthy {
		return
	}
	o.handleRecovery(ctx, factoryID, f)
}

func (o *Orchestrator) handleRecovery(ctx context.Context, factoryID string, f fleet.Factory) {
	if !o.testAndSetRecovering(factoryID) {
		return
	}
	defer o.clearRecovering(factoryID)

	previousStatus := f.Status
	now := time.Now()

	ev := fleet.FailoverEvent{
		EventID:   uuid.NewString(),
		FactoryID: factoryID,
		Reason:    "Factory recovered from " + string(previousStatus),
		Target:    nil,
		Timestamp: now,
	}
	if err := o.persist.AppendFailoverEvent(ctx, ev); err != nil {
		observ.Error("persistence_write_failed", map[string]any{"op": "append_failover_event", "error": err.Error()})
	}

	result, err := o.pmsPort.ReportStatus(ctx, factoryID, fleet.FactoryOperational.LegacyStatus(), "recovered")
	if err != nil {
		observ.Warn("recovery_pms_notify_failed", map[string]any{"factory_id": factoryID, "error": err.Error()})
	}
	_ = result

	f.Status = fleet.FactoryOperational
	f.MissedHeartbeats = 0
	f.ConsecutiveHealthy = 0
	if err := o.persist.UpsertFactoryHealth(ctx, persistence.FactoryHealthDoc{Factory: f, UpdatedAt: now}); err != nil {
		observ.Error("persistence_write_failed", map[string]any{"op": "upsert_factory_health", "error": err.Error()})
	}
	if err := o.persist.ResetCounters(ctx, factoryID); err != nil {
		observ.Error("persistence_write_failed", map[string]any{"op": "reset_counters", "error": err.Error()})
	}

	observ.Log("factory_recovered", map[string]any{"factory_id": factoryID, "from": string(previousStatus)})
	if o.onRecovery != nil {
		o.onRecovery(f, previousStatus)
	}
}

func (o *Orchestrator) testAndSetRecovering(factoryID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.recoveringFactories[factoryID]; exists {
		return false
	}
	o.recoveringFactories[factoryID] = struct{}{}
	return true
}

func (o *Orchestrator) clearRecovering(factoryID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.recoveringFactories, factoryID)
}
