package failover

import (
	"context"
	"testing"
	"time"

	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/factoryhealth"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/persistence"
	"github.com/devansharora/fleetguard/internal/pms"
	"github.com/devansharora/fleetguard/internal/sensorstore"
)

func testThresholds() config.Thresholds {
	return config.Thresholds{FactoryOperationalPct: 80, FactoryDegradedPct: 50, FactoryCriticalPct: 20}
}

func testPMSCfg() config.PMS {
	return config.PMS{TimeoutSeconds: 1, MaxAttempts: 1, BackoffBaseMs: 1, CircuitMaxFailures: 3, CircuitOpenSeconds: 30}
}

func TestTriggerAppendsOneEventAndInvokesCallback(t *testing.T) {
	store := sensorstore.New(5 * time.Second)
	agg := factoryhealth.New(store, testThresholds(), nil)
	persist := persistence.NewMemory()
	client := &pms.MockClient{}
	port := pms.NewPort(client, testPMSCfg())

	calls := 0
	orch := New(agg, persist, port, func() []string { return nil }, 5, func(f fleet.Factory, reason string, backup *string, r pms.Result) {
		calls++
	}, nil)

	orch.Trigger(context.Background(), "f1", "test")
	if calls != 1 {
		t.Fatalf("expected exactly one callback invocation, got %d", calls)
	}

	events, _ := persist.FailoverEvents(context.Background(), "f1")
	if len(events) != 1 {
		t.Fatalf("expected exactly one failover event, got %d", len(events))
	}
}

func TestActiveFailoverGuardReleasesAfterCompletion(t *testing.T) {
	store := sensorstore.New(5 * time.Second)
	agg := factoryhealth.New(store, testThresholds(), nil)
	persist := persistence.NewMemory()
	client := &pms.MockClient{}
	port := pms.NewPort(client, testPMSCfg())

	orch := New(agg, persist, port, func() []string { return nil }, 5, nil, nil)

	orch.Trigger(context.Background(), "f1", "first")
	orch.Trigger(context.Background(), "f1", "second")

	events, _ := persist.FailoverEvents(context.Background(), "f1")
	if len(events) != 2 {
		t.Fatalf("expected the guard to release after each run completes, allowing a second trigger; got %d events", len(events))
	}
}

func TestSelectBackupOrdersByRiskThenID(t *testing.T) {
	store := sensorstore.New(5 * time.Second)
	agg := factoryhealth.New(store, testThresholds(), nil)
	persist := persistence.NewMemory()
	client := &pms.MockClient{}
	port := pms.NewPort(client, testPMSCfg())

	store.Register("s", "fB", "")
	store.Register("s", "fA", "")
	store.Register("s", "fFailed", "")
	agg.Derive("fB", time.Now())
	agg.Derive("fA", time.Now())
	agg.Derive("fFailed", time.Now())

	// fA sorts first alphabetically but carries HIGH risk; fB sorts
	// second but carries LOW risk. Risk rank must win the tie-break.
	agg.SetRisk("fA", fleet.RiskHigh)
	agg.SetRisk("fB", fleet.RiskLow)

	lister := func() []string { return []string{"fB", "fA", "fFailed"} }
	orch := New(agg, persist, port, lister, 5, nil, nil)

	backup := orch.selectBackup("fFailed")
	if backup == nil || *backup != "fB" {
		t.Fatalf("expected fB (LOW risk beats fA's alphabetical edge despite HIGH risk), got %v", backup)
	}
}

func TestSelectBackupOrdersByIDWhenRiskTied(t *testing.T) {
	store := sensorstore.New(5 * time.Second)
	agg := factoryhealth.New(store, testThresholds(), nil)
	persist := persistence.NewMemory()
	client := &pms.MockClient{}
	port := pms.NewPort(client, testPMSCfg())

	store.Register("s", "fB", "")
	store.Register("s", "fA", "")
	store.Register("s", "fFailed", "")
	agg.Derive("fB", time.Now())
	agg.Derive("fA", time.Now())
	agg.Derive("fFailed", time.Now())

	agg.SetRisk("fA", fleet.RiskMedium)
	agg.SetRisk("fB", fleet.RiskMedium)

	lister := func() []string { return []string{"fB", "fA", "fFailed"} }
	orch := New(agg, persist, port, lister, 5, nil, nil)

	backup := orch.selectBackup("fFailed")
	if backup == nil || *backup != "fA" {
		t.Fatalf("expected fA (alphabetically first among equal-risk candidates), got %v", backup)
	}
}

func TestRecoveryRequiresConsecutiveHealthyThreshold(t *testing.T) {
	store := sensorstore.New(5 * time.Second)
	agg := factoryhealth.New(store, testThresholds(), nil)
	persist := persistence.NewMemory()
	client := &pms.MockClient{}
	port := pms.NewPort(client, testPMSCfg())

	store.Register("s", "f1", "")
	store.MarkFailed("s", "f1", "x", time.Now())
	agg.Derive("f1", time.Now())

	recovered := 0
	orch := New(agg, persist, port, func() []string { return nil }, 5, nil, func(f fleet.Factory, prev fleet.FactoryStatus) {
		recovered++
	})

	orch.Check(context.Background(), "f1")
	if recovered != 0 {
		t.Fatalf("expected no recovery before consecutive_healthy reaches threshold")
	}
}
