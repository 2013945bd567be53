// Package ingestion implements the dispatch half of the Ingestion Loop
// (§4.6): decoding each bus record by topic and driving the sensor
// store, risk tracker and outbound at-risk notifications.
package ingestion

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/time/rate"

	"github.com/devansharora/fleetguard/internal/bus"
	"github.com/devansharora/fleetguard/internal/factoryhealth"
	"github.com/devansharora/fleetguard/internal/ferrors"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/observ"
	"github.com/devansharora/fleetguard/internal/persistence"
	"github.com/devansharora/fleetguard/internal/risk"
	"github.com/devansharora/fleetguard/internal/sensorstore"
)

// heartbeatPersistRate caps how fast heartbeat records are written to
// persistence; readings, failures and restarts are never subject to
// this limiter. A heartbeat that arrives while the limiter is exhausted
// is not persisted: the skipped record is the newest one, since there
// is no queue of older pending records to drop from.
const heartbeatPersistRate = 500 // per second

// Topics names the canonical inbound/outbound topics from §6. Defaults
// are supplied by config; this struct lets the dispatcher route without
// hardcoding the strings twice.
type Topics struct {
	Heartbeat     string
	Readings      string
	SensorFailure string
	Restart       string
	AtRisk        string
}

// Dispatcher decodes and routes inbound bus records.
type Dispatcher struct {
	topics  Topics
	store   *sensorstore.Store
	agg     *factoryhealth.Aggregator
	tracker *risk.Tracker
	persist persistence.Port
	publish bus.Producer

	atRiskThreshold float64
	hbPersistLimiter *rate.Limiter
}

func New(topics Topics, store *sensorstore.Store, agg *factoryhealth.Aggregator, tracker *risk.Tracker, persist persistence.Port, publish bus.Producer, atRiskThreshold float64) *Dispatcher {
	return &Dispatcher{
		topics:           topics,
		store:            store,
		agg:              agg,
		tracker:          tracker,
		persist:          persist,
		publish:          publish,
		atRiskThreshold:  atRiskThreshold,
		hbPersistLimiter: rate.NewLimiter(rate.Limit(heartbeatPersistRate), heartbeatPersistRate),
	}
}

type heartbeatPayload struct {
	SensorID  string    `json:"sensorId"`
	FactoryID string    `json:"factoryId"`
	Tier      string    `json:"tier"`
	Timestamp time.Time `json:"timestamp"`
}

type readingPayload struct {
	SensorID  string    `json:"sensorId"`
	FactoryID string    `json:"factoryId"`
	Reading   float64   `json:"reading"`
	Timestamp time.Time `json:"timestamp"`
}

type failurePayload struct {
	SensorID  string  `json:"sensorId"`
	FactoryID string  `json:"factoryId"`
	Reading   float64 `json:"reading"`
	Reason    string  `json:"reason"`
}

type restartPayload struct {
	FactoryID        string   `json:"factoryId"`
	RecoveredSensors []string `json:"recoveredSensors"`
}

// Handle is the bus.Handler entry point. It never panics or returns an
// error to the caller: every failure is logged/counted and the message
// is dropped (§4.6, §7).
func (d *Dispatcher) Handle(ctx context.Context, rec bus.Record) {
	switch rec.Topic {
	case d.topics.Heartbeat:
		d.handleHeartbeat(ctx, rec.Payload)
	case d.topics.Readings:
		d.handleReading(ctx, rec.Payload)
	case d.topics.SensorFailure:
		d.handleFailure(ctx, rec.Payload)
	case d.topics.Restart:
		d.handleRestart(ctx, rec.Payload)
	default:
		observ.Log("ingestion_unknown_topic", map[string]any{"topic": rec.Topic})
	}
}

func (d *Dispatcher) handleHeartbeat(ctx context.Context, payload []byte) {
	var p heartbeatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		d.dropMalformed(d.topics.Heartbeat, err)
		return
	}
	if p.SensorID == "" || p.FactoryID == "" {
		d.dropMalformed(d.topics.Heartbeat, errMissingFields)
		return
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	d.store.OnHeartbeat(p.SensorID, p.FactoryID, p.Tier, ts)
	observ.IncCounter("ingestion_heartbeats_total", map[string]string{"factory_id": p.FactoryID})

	if !d.hbPersistLimiter.Allow() {
		// In-memory health state is already updated above; only the
		// durable heartbeat log entry is the one dropped under load.
		observ.IncCounter("ingestion_heartbeat_persist_dropped_total", map[string]string{"factory_id": p.FactoryID})
		d.agg.Derive(p.FactoryID, ts)
		return
	}

	if err := d.persist.RecordHeartbeat(ctx, fleet.HeartbeatRecord{
		SensorID: p.SensorID, FactoryID: p.FactoryID, Tier: p.Tier, Timestamp: ts,
	}); err != nil {
		observ.Error("persistence_write_failed", map[string]any{"op": "record_heartbeat", "error": err.Error()})
	}
	d.agg.Derive(p.FactoryID, ts)
}

func (d *Dispatcher) handleReading(ctx context.Context, payload []byte) {
	var p readingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		d.dropMalformed(d.topics.Readings, err)
		return
	}
	if p.SensorID == "" || p.FactoryID == "" {
		d.dropMalformed(d.topics.Readings, errMissingFields)
		return
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	status := fleet.SensorOK
	if p.Reading < d.atRiskThreshold {
		status = fleet.SensorWarning
	}
	d.store.OnReading(p.SensorID, p.FactoryID, "", status, ts)

	if err := d.persist.RecordReading(ctx, fleet.SensorReading{
		SensorID: p.SensorID, FactoryID: p.FactoryID, Reading: p.Reading, Timestamp: ts,
	}); err != nil {
		observ.Error("persistence_write_failed", map[string]any{"op": "record_reading", "error": err.Error()})
	}

	obs := d.tracker.Observe(p.SensorID, p.Reading)
	if obs.JustLatched {
		d.publishAtRisk(ctx, p.FactoryID, p.SensorID, obs, ts)
	}
	d.agg.Derive(p.FactoryID, ts)
}

func (d *Dispatcher) publishAtRisk(ctx context.Context, factoryID, sensorID string, obs risk.Observation, ts time.Time) {
	n := fleet.SensorAtRiskNotification{
		FactoryID:       factoryID,
		SensorID:        sensorID,
		LowReadingCount: obs.LowReadingCount,
		RecentReadings:  obs.Window,
		Threshold:       d.atRiskThreshold,
		Timestamp:       ts,
	}
	payload, err := json.Marshal(n)
	if err != nil {
		observ.Error("at_risk_encode_failed", map[string]any{"sensor_id": sensorID, "error": err.Error()})
		return
	}
	if err := d.publish.Publish(ctx, d.topics.AtRisk, payload); err != nil {
		observ.Error("at_risk_publish_failed", map[string]any{"sensor_id": sensorID, "error": err.Error()})
	}
}

func (d *Dispatcher) handleFailure(ctx context.Context, payload []byte) {
	var p failurePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		d.dropMalformed(d.topics.SensorFailure, err)
		return
	}
	if p.SensorID == "" || p.FactoryID == "" {
		d.dropMalformed(d.topics.SensorFailure, errMissingFields)
		return
	}
	d.store.MarkFailed(p.SensorID, p.FactoryID, p.Reason, time.Now())
	d.agg.Derive(p.FactoryID, time.Now())
}

func (d *Dispatcher) handleRestart(ctx context.Context, payload []byte) {
	var p restartPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		d.dropMalformed(d.topics.Restart, err)
		return
	}
	if p.FactoryID == "" {
		d.dropMalformed(d.topics.Restart, errMissingFields)
		return
	}
	d.store.RecoverAll(p.FactoryID, p.RecoveredSensors)
	for _, id := range p.RecoveredSensors {
		d.tracker.Reset(id)
	}
	d.agg.Derive(p.FactoryID, time.Now())
}

func (d *Dispatcher) dropMalformed(topic string, err error) {
	decodeErr := &ferrors.DecodeError{Topic: topic, Err: err}
	observ.IncCounter("ingestion_malformed_total", map[string]string{"topic": topic})
	observ.Warn("ingestion_malformed_payload", map[string]any{"topic": topic, "error": decodeErr.Error()})
}

var errMissingFields = &missingFieldsError{}

type missingFieldsError struct{}

func (e *missingFieldsError) Error() string { return "missing required fields" }
