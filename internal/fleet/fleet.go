// Package fleet holds the core data model shared by every subsystem:
// sensors, factories, risk trackers and the append-only event types.
// Nothing in here talks to the bus, a database or PMS; it is plain
// structs and the pure rules that govern their transitions.
package fleet

import "time"

// SensorStatus is the lifecycle state of a single sensor.
type SensorStatus string

const (
	SensorOK      SensorStatus = "OK"
	SensorWarning SensorStatus = "WARNING"
	SensorFailed  SensorStatus = "FAILED"
)

// Sensor is the smallest monitored unit. Zero value is not valid; use
// NewSensor so Status starts OK and identity fields are set.
type Sensor struct {
	SensorID  string
	FactoryID string
	Tier      string

	Status        SensorStatus
	LastSeen      *time.Time
	FailureReason string
	FailureTS     *time.Time

	// ManualOverrideExpiry, when non-nil and in the future, protects the
	// sensor's current status from automatic recovery/timeout logic.
	ManualOverrideExpiry *time.Time
}

// NewSensor creates a freshly-registered sensor in OK status with no
// last-seen time yet (set by the first heartbeat or reading).
func NewSensor(sensorID, factoryID, tier string) *Sensor {
	return &Sensor{
		SensorID:  sensorID,
		FactoryID: factoryID,
		Tier:      tier,
		Status:    SensorOK,
	}
}

// OverrideActive reports whether a manual override is still in effect at t.
func (s *Sensor) OverrideActive(t time.Time) bool {
	return s.ManualOverrideExpiry != nil && t.Before(*s.ManualOverrideExpiry)
}

// FactoryStatus is the canonical sensor-percentage-derived status (§9:
// the sensor-percentage model is canonical; LegacyStatus translates it
// for PMS callers still expecting the heartbeat-only scale).
type FactoryStatus string

const (
	FactoryOperational FactoryStatus = "OPERATIONAL"
	FactoryDegraded    FactoryStatus = "DEGRADED"
	FactoryCritical    FactoryStatus = "CRITICAL"
	FactoryDown        FactoryStatus = "DOWN"
)

// LegacyFactoryStatus is the heartbeat-only three-value scale PMS and
// older dashboards understand.
type LegacyFactoryStatus string

const (
	LegacyUp       LegacyFactoryStatus = "UP"
	LegacyDegraded LegacyFactoryStatus = "DEGRADED"
	LegacyDown     LegacyFactoryStatus = "DOWN"
)

// LegacyStatus translates the canonical four-value status down to the
// three-value scale PMS speaks. OPERATIONAL maps to UP; CRITICAL and DOWN
// both collapse to DOWN since the legacy scale has no severe-but-not-dead
// rung.
func (s FactoryStatus) LegacyStatus() LegacyFactoryStatus {
	switch s {
	case FactoryOperational:
		return LegacyUp
	case FactoryDegraded:
		return LegacyDegraded
	default:
		return LegacyDown
	}
}

// RiskLevel is the classification produced by the risk engine.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskRank orders risk levels for backup selection (§4.4): lower rank is
// a safer backup candidate.
func (r RiskLevel) RiskRank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 3
	}
}

// Factory is the derived health snapshot of a logical grouping of
// sensors. Every field here is recomputed from sensor state; Factory has
// no independent lifecycle of its own (§3).
type Factory struct {
	FactoryID string

	OK      int
	Warning int
	Failed  int
	Total   int

	Status FactoryStatus
	Risk   RiskLevel

	MissedHeartbeats  int
	ConsecutiveHealthy int
}

// HealthPct returns ok/total*100, or 100 for an empty factory (vacuously
// healthy: no sensors means nothing is failing).
func (f Factory) HealthPct() float64 {
	if f.Total == 0 {
		return 100
	}
	return float64(f.OK) / float64(f.Total) * 100
}

// HeartbeatRecord is an inbound liveness signal.
type HeartbeatRecord struct {
	SensorID  string
	FactoryID string
	Tier      string
	Timestamp time.Time
}

// SensorReading is an inbound numeric measurement.
type SensorReading struct {
	SensorID  string
	FactoryID string
	Reading   float64
	Timestamp time.Time
}

// FailoverEvent is an append-only record of a failover or recovery
// action taken against a factory. EventID is a client-generated UUID so
// a persistence retry can be deduped on replay rather than double-
// appended.
type FailoverEvent struct {
	EventID   string
	FactoryID string
	Reason    string
	Target    *string // backup factory id, nil for recoveries and no-backup failovers
	Timestamp time.Time
}

// StatusTransition is an append-only record of a factory's derived
// status changing from one value to another.
type StatusTransition struct {
	FactoryID string
	From      FactoryStatus
	To        FactoryStatus
	Reason    string
	Timestamp time.Time
}

// SensorAtRiskNotification is the outbound `factory.sensor-at-risk` event.
type SensorAtRiskNotification struct {
	FactoryID       string
	SensorID        string
	LowReadingCount int
	RecentReadings  []float64
	Threshold       float64
	Timestamp       time.Time
}
