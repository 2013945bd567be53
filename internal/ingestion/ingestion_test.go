package ingestion

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/devansharora/fleetguard/internal/bus"
	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/factoryhealth"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/persistence"
	"github.com/devansharora/fleetguard/internal/risk"
	"github.com/devansharora/fleetguard/internal/sensorstore"
)

func testTopics() Topics {
	return Topics{
		Heartbeat:     "factory.heartbeat",
		Readings:      "factory.readings",
		SensorFailure: "factory.sensor-failure",
		Restart:       "factory.restart",
		AtRisk:        "factory.sensor-at-risk",
	}
}

func newTestDispatcher() (*Dispatcher, *bus.MemoryBus, *sensorstore.Store) {
	store := sensorstore.New(5 * time.Second)
	agg := factoryhealth.New(store, config.Thresholds{FactoryOperationalPct: 80, FactoryDegradedPct: 50, FactoryCriticalPct: 20}, nil)
	tracker := risk.NewTracker(risk.TrackerConfig{Threshold: 70, ConsecutiveLow: 3})
	persist := persistence.NewMemory()
	mb := bus.NewMemoryBus()
	d := New(testTopics(), store, agg, tracker, persist, mb, 70)
	return d, mb, store
}

func TestHandleHeartbeatRegistersSensor(t *testing.T) {
	d, mb, store := newTestDispatcher()
	payload, _ := json.Marshal(map[string]any{
		"sensorId": "s1", "factoryId": "f1", "tier": "critical", "timestamp": time.Now(),
	})
	d.Handle(context.Background(), bus.Record{Topic: "factory.heartbeat", Payload: payload})

	sn, ok := store.Get("s1", "f1")
	if !ok {
		t.Fatalf("expected sensor to be registered by heartbeat")
	}
	if sn.LastSeen == nil {
		t.Fatalf("expected last_seen to be set")
	}
	_ = mb
}

func TestMalformedPayloadIsDroppedNotFatal(t *testing.T) {
	d, _, _ := newTestDispatcher()
	// This must not panic the handler.
	d.Handle(context.Background(), bus.Record{Topic: "factory.heartbeat", Payload: []byte("{not json")})
}

func TestUnknownTopicIsDropped(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.Handle(context.Background(), bus.Record{Topic: "factory.unknown", Payload: []byte("{}")})
}

func TestLatchedReadingPublishesAtRiskOnce(t *testing.T) {
	d, mb, _ := newTestDispatcher()
	reading := func(val float64) []byte {
		p, _ := json.Marshal(map[string]any{
			"sensorId": "s1", "factoryId": "f1", "reading": val, "timestamp": time.Now(),
		})
		return p
	}

	for i := 0; i < 2; i++ {
		d.Handle(context.Background(), bus.Record{Topic: "factory.readings", Payload: reading(50)})
	}
	if len(mb.Published()) != 0 {
		t.Fatalf("expected no notification before the latch fires")
	}

	d.Handle(context.Background(), bus.Record{Topic: "factory.readings", Payload: reading(50)})
	if len(mb.Published()) != 1 {
		t.Fatalf("expected exactly one at-risk notification on latch, got %d", len(mb.Published()))
	}

	d.Handle(context.Background(), bus.Record{Topic: "factory.readings", Payload: reading(10)})
	if len(mb.Published()) != 1 {
		t.Fatalf("expected the latch to be one-shot, got %d publishes", len(mb.Published()))
	}
}

func TestRestartResetsTracker(t *testing.T) {
	d, mb, store := newTestDispatcher()
	store.Register("s1", "f1", "")
	store.MarkFailed("s1", "f1", "x", time.Now())
	for i := 0; i < 3; i++ {
		d.tracker.Observe("s1", 50)
	}
	if !d.tracker.IsAtRisk("s1") {
		t.Fatalf("expected the tracker to be latched before restart")
	}

	payload, _ := json.Marshal(map[string]any{"factoryId": "f1", "recoveredSensors": []string{"s1"}})
	d.Handle(context.Background(), bus.Record{Topic: "factory.restart", Payload: payload})

	sn, _ := store.Get("s1", "f1")
	if sn.Status != fleet.SensorOK {
		t.Fatalf("expected restart to recover the sensor, got %s", sn.Status)
	}
	if d.tracker.IsAtRisk("s1") {
		t.Fatalf("expected restart to reset the sensor's risk tracker")
	}
	_ = mb
}
