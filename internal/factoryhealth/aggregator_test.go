package factoryhealth

import (
	"testing"
	"time"

	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/sensorstore"
)

func testThresholds() config.Thresholds {
	return config.Thresholds{
		FactoryOperationalPct: 80,
		FactoryDegradedPct:    50,
		FactoryCriticalPct:    20,
	}
}

func TestDeriveEmptyFactoryIsOperational(t *testing.T) {
	store := sensorstore.New(5 * time.Second)
	agg := New(store, testThresholds(), nil)

	f := agg.Derive("f1", time.Now())
	if f.Status != fleet.FactoryOperational {
		t.Fatalf("expected empty factory to be OPERATIONAL, got %s", f.Status)
	}
}

func TestDeriveBandsByHealthPct(t *testing.T) {
	now := time.Now()
	store := sensorstore.New(5 * time.Second)
	for i := 0; i < 10; i++ {
		store.Register(string(rune('a'+i)), "f1", "")
	}
	// Fail 3 of 10 -> 70% healthy -> DEGRADED (>=50, <80).
	store.MarkFailed("a", "f1", "x", now)
	store.MarkFailed("b", "f1", "x", now)
	store.MarkFailed("c", "f1", "x", now)

	agg := New(store, testThresholds(), nil)
	f := agg.Derive("f1", now)
	if f.Status != fleet.FactoryDegraded {
		t.Fatalf("expected DEGRADED at 70%% health, got %s (%v)", f.Status, f.HealthPct())
	}
}

func TestDeriveAllFailedIsDown(t *testing.T) {
	now := time.Now()
	store := sensorstore.New(5 * time.Second)
	store.Register("a", "f1", "")
	store.MarkFailed("a", "f1", "x", now)

	agg := New(store, testThresholds(), nil)
	f := agg.Derive("f1", now)
	if f.Status != fleet.FactoryDown {
		t.Fatalf("expected DOWN when every sensor failed, got %s", f.Status)
	}
}

func TestDeriveEmitsTransitionOnlyOnChange(t *testing.T) {
	now := time.Now()
	store := sensorstore.New(5 * time.Second)
	store.Register("a", "f1", "")

	var transitions []fleet.StatusTransition
	agg := New(store, testThresholds(), func(tr fleet.StatusTransition) {
		transitions = append(transitions, tr)
	})

	agg.Derive("f1", now) // OPERATIONAL for the first time: a transition.
	agg.Derive("f1", now) // Idempotent recompute, no sensor change: no transition.

	if len(transitions) != 1 {
		t.Fatalf("expected exactly one transition across two identical derives, got %d", len(transitions))
	}

	store.MarkFailed("a", "f1", "x", now)
	agg.Derive("f1", now) // Now DOWN: a second transition.
	if len(transitions) != 2 {
		t.Fatalf("expected a second transition after status actually changed, got %d", len(transitions))
	}
}

func TestLegacyStatusMapping(t *testing.T) {
	cases := map[fleet.FactoryStatus]fleet.LegacyFactoryStatus{
		fleet.FactoryOperational: fleet.LegacyUp,
		fleet.FactoryDegraded:    fleet.LegacyDegraded,
		fleet.FactoryCritical:    fleet.LegacyDown,
		fleet.FactoryDown:        fleet.LegacyDown,
	}
	for in, want := range cases {
		if got := in.LegacyStatus(); got != want {
			t.Errorf("LegacyStatus(%s) = %s, want %s", in, got, want)
		}
	}
}
