package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/factoryhealth"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/persistence"
	"github.com/devansharora/fleetguard/internal/risk"
	"github.com/devansharora/fleetguard/internal/sensorstore"
)

func testThresholds() config.Thresholds {
	return config.Thresholds{
		FactoryOperationalPct: 80, FactoryDegradedPct: 50, FactoryCriticalPct: 20,
		DegradedErrorRate: 0.05, HighErrorRate: 0.2,
	}
}

type stubFailover struct {
	triggered  []string
	rebalanced []string
}

func (f *stubFailover) Trigger(ctx context.Context, factoryID, reason string) {
	f.triggered = append(f.triggered, factoryID)
}
func (f *stubFailover) PreemptiveRebalance(ctx context.Context, factoryID string) {
	f.rebalanced = append(f.rebalanced, factoryID)
}

type stubRecovery struct {
	checked []string
}

func (r *stubRecovery) Check(ctx context.Context, factoryID string) {
	r.checked = append(r.checked, factoryID)
}

func TestTickIncrementsMissedHeartbeatsWhenFactoryStale(t *testing.T) {
	store := sensorstore.New(time.Hour) // long enough that sensor-level timeout never fires here
	agg := factoryhealth.New(store, testThresholds(), nil)
	persist := persistence.NewMemory()
	fo := &stubFailover{}
	rc := &stubRecovery{}

	now := time.Now()
	store.OnHeartbeat("s1", "f1", "", now)
	agg.Derive("f1", now)

	sup := New(store, agg, nil, fo, rc, nil, persist, 5*time.Second, 5, time.Second)

	sup.Tick(context.Background(), now.Add(10*time.Second))

	f, ok := agg.Last("f1")
	if !ok {
		t.Fatalf("expected f1 to have a cached status")
	}
	if f.MissedHeartbeats != 1 {
		t.Fatalf("expected missed_heartbeats=1 after a stale tick, got %d", f.MissedHeartbeats)
	}
	if f.ConsecutiveHealthy != 0 {
		t.Fatalf("expected consecutive_healthy=0 after a stale tick, got %d", f.ConsecutiveHealthy)
	}

	missed, healthy, err := persist.AdjustCounters(context.Background(), "f1", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error reading back counters: %v", err)
	}
	if missed != 1 || healthy != 0 {
		t.Fatalf("expected durable counters missed=1 healthy=0, got missed=%d healthy=%d", missed, healthy)
	}
}

func TestTickBuildsConsecutiveHealthyTowardRecovery(t *testing.T) {
	store := sensorstore.New(time.Hour)
	agg := factoryhealth.New(store, testThresholds(), nil)
	persist := persistence.NewMemory()
	fo := &stubFailover{}
	rc := &stubRecovery{}

	now := time.Now()
	store.OnHeartbeat("s1", "f1", "", now)
	agg.Derive("f1", now)

	sup := New(store, agg, nil, fo, rc, nil, persist, 5*time.Second, 5, time.Second)

	for i := 1; i <= 3; i++ {
		tick := now.Add(time.Duration(i) * time.Second)
		store.OnHeartbeat("s1", "f1", "", tick)
		sup.Tick(context.Background(), tick)
	}

	f, _ := agg.Last("f1")
	if f.ConsecutiveHealthy != 3 {
		t.Fatalf("expected consecutive_healthy=3 after three on-time ticks, got %d", f.ConsecutiveHealthy)
	}
	if f.MissedHeartbeats != 0 {
		t.Fatalf("expected missed_heartbeats=0 after on-time ticks, got %d", f.MissedHeartbeats)
	}
	if len(rc.checked) != 3 {
		t.Fatalf("expected the recovery checker to run every tick, got %d calls", len(rc.checked))
	}
}

func TestTickWritesRiskBackIntoAggregatorCache(t *testing.T) {
	store := sensorstore.New(time.Hour)
	agg := factoryhealth.New(store, testThresholds(), nil)
	persist := persistence.NewMemory()
	engine := risk.New(testThresholds())
	fo := &stubFailover{}
	rc := &stubRecovery{}

	now := time.Now()
	store.OnHeartbeat("s1", "f1", "", now)
	agg.Derive("f1", now)

	riskIn := func(factoryID string) risk.FactoryInput {
		return risk.FactoryInput{FactoryID: factoryID, ErrorRate: 0.9, MissedHeartbeats: 3, CPUPct: 96}
	}

	sup := New(store, agg, engine, fo, rc, riskIn, persist, 5*time.Second, 5, time.Second)
	sup.Tick(context.Background(), now.Add(time.Second))

	f, ok := agg.Last("f1")
	if !ok {
		t.Fatalf("expected f1 to have a cached status")
	}
	if f.Risk != fleet.RiskHigh {
		t.Fatalf("expected risk engine output to be written back as HIGH, got %q", f.Risk)
	}
}
