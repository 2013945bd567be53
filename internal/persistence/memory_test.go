package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/devansharora/fleetguard/internal/fleet"
)

func TestAdjustCountersReadBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	missed, healthy, err := m.AdjustCounters(ctx, "f1", 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missed != 1 || healthy != 0 {
		t.Fatalf("expected (1,0), got (%d,%d)", missed, healthy)
	}

	missed, healthy, err = m.AdjustCounters(ctx, "f1", 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missed != 2 {
		t.Fatalf("expected missed to accumulate to 2, got %d", missed)
	}

	if err := m.ResetCounters(ctx, "f1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	missed, healthy, _ = m.AdjustCounters(ctx, "f1", 0, 0)
	if missed != 0 || healthy != 0 {
		t.Fatalf("expected reset counters to read back as zero, got (%d,%d)", missed, healthy)
	}
}

func TestHeartbeatsWithinWindow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	_ = m.RecordHeartbeat(ctx, fleet.HeartbeatRecord{SensorID: "s1", FactoryID: "f1", Timestamp: now.Add(-10 * time.Second)})
	_ = m.RecordHeartbeat(ctx, fleet.HeartbeatRecord{SensorID: "s2", FactoryID: "f1", Timestamp: now.Add(-1 * time.Second)})

	hbs, err := m.HeartbeatsWithin(ctx, "f1", 5*time.Second, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hbs) != 1 || hbs[0].SensorID != "s2" {
		t.Fatalf("expected only the recent heartbeat within the window, got %+v", hbs)
	}
}

func TestFailoverEventsOrderedByInsertion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	_ = m.AppendFailoverEvent(ctx, fleet.FailoverEvent{FactoryID: "f1", Reason: "first", Timestamp: now})
	_ = m.AppendFailoverEvent(ctx, fleet.FailoverEvent{FactoryID: "f1", Reason: "second", Timestamp: now.Add(time.Second)})

	events, err := m.FailoverEvents(ctx, "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[0].Reason != "first" || events[1].Reason != "second" {
		t.Fatalf("expected events in insertion order, got %+v", events)
	}
}
