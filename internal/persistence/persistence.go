// Package persistence implements the Persistence Port (§4.8): the
// logical event-log/upsert contract, with no schema prescribed by the
// spec. Port is the interface every store (in-memory, Postgres)
// satisfies; callers depend only on Port.
package persistence

import (
	"context"
	"time"

	"github.com/devansharora/fleetguard/internal/fleet"
)

// SensorStatusDoc is the upserted current-status row for one sensor.
type SensorStatusDoc struct {
	SensorID  string
	FactoryID string
	Status    fleet.SensorStatus
	UpdatedAt time.Time
}

// FactoryHealthDoc is the upserted current-status row for one factory.
type FactoryHealthDoc struct {
	Factory   fleet.Factory
	UpdatedAt time.Time
}

// ResetDelta is the delta to pass to AdjustCounters for whichever
// counter should drop to zero: both implementations floor the result at
// zero, so a large negative delta resets it regardless of its current
// value without a separate read.
const ResetDelta = -(1 << 30)

// Port is the logical persistence contract from §4.8. Writes within a
// single factory_id are observed in the order they were issued.
type Port interface {
	RecordHeartbeat(ctx context.Context, hb fleet.HeartbeatRecord) error
	RecordReading(ctx context.Context, r fleet.SensorReading) error

	UpsertSensorStatus(ctx context.Context, doc SensorStatusDoc) error
	UpsertFactoryHealth(ctx context.Context, doc FactoryHealthDoc) error

	// AdjustCounters atomically applies delta to missed_heartbeats and
	// consecutive_healthy for a factory and returns the values read back
	// after the adjustment, so callers can act on the authoritative state
	// without a separate round trip.
	AdjustCounters(ctx context.Context, factoryID string, missedDelta, healthyDelta int) (missed, healthy int, err error)
	ResetCounters(ctx context.Context, factoryID string) error

	AppendFailoverEvent(ctx context.Context, ev fleet.FailoverEvent) error
	AppendStatusTransition(ctx context.Context, tr fleet.StatusTransition) error

	LatestHeartbeat(ctx context.Context, sensorID string) (fleet.HeartbeatRecord, bool, error)
	HeartbeatsWithin(ctx context.Context, factoryID string, window time.Duration, now time.Time) ([]fleet.HeartbeatRecord, error)
	LatestFactoryStatus(ctx context.Context, factoryID string) (FactoryHealthDoc, bool, error)

	// FailoverEvents returns every append-only event recorded for a
	// factory, used by the replay tool. Memory returns insertion order;
	// Postgres orders by event timestamp.
	FailoverEvents(ctx context.Context, factoryID string) ([]fleet.FailoverEvent, error)
	StatusTransitions(ctx context.Context, factoryID string) ([]fleet.StatusTransition, error)

	Close(ctx context.Context) error
}
