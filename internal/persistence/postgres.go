package persistence

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devansharora/fleetguard/internal/fleet"
)

// Postgres persists the logical collections from §4.8 into seven tables
// via a pgxpool connection (context-scoped queries, explicit Close).
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) RecordHeartbeat(ctx context.Context, hb fleet.HeartbeatRecord) error {
	_, err := p.pool.Exec(ctx,
		`insert into heartbeats (sensor_id, factory_id, tier, ts) values ($1, $2, $3, $4)`,
		hb.SensorID, hb.FactoryID, hb.Tier, hb.Timestamp)
	return err
}

func (p *Postgres) RecordReading(ctx context.Context, r fleet.SensorReading) error {
	_, err := p.pool.Exec(ctx,
		`insert into sensor_readings (sensor_id, factory_id, reading, ts) values ($1, $2, $3, $4)`,
		r.SensorID, r.FactoryID, r.Reading, r.Timestamp)
	return err
}

func (p *Postgres) UpsertSensorStatus(ctx context.Context, doc SensorStatusDoc) error {
	_, err := p.pool.Exec(ctx, `
		insert into sensor_status (sensor_id, factory_id, status, updated_at)
		values ($1, $2, $3, $4)
		on conflict (sensor_id) do update set status = excluded.status, updated_at = excluded.updated_at`,
		doc.SensorID, doc.FactoryID, doc.Status, doc.UpdatedAt)
	return err
}

func (p *Postgres) UpsertFactoryHealth(ctx context.Context, doc FactoryHealthDoc) error {
	f := doc.Factory
	_, err := p.pool.Exec(ctx, `
		insert into factory_health (factory_id, ok, warning, failed, total, status, risk, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (factory_id) do update set
			ok = excluded.ok, warning = excluded.warning, failed = excluded.failed, total = excluded.total,
			status = excluded.status, risk = excluded.risk, updated_at = excluded.updated_at`,
		f.FactoryID, f.OK, f.Warning, f.Failed, f.Total, f.Status, f.Risk, doc.UpdatedAt)
	return err
}

// AdjustCounters applies the delta and reads back the result inside one
// transaction, satisfying the §4.8 "atomically...with a read-back"
// requirement.
func (p *Postgres) AdjustCounters(ctx context.Context, factoryID string, missedDelta, healthyDelta int) (int, int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	var missed, healthy int
	err = tx.QueryRow(ctx, `
		insert into factory_counters (factory_id, missed_heartbeats, consecutive_healthy)
		values ($1, greatest($2, 0), greatest($3, 0))
		on conflict (factory_id) do update set
			missed_heartbeats = greatest(factory_counters.missed_heartbeats + $2, 0),
			consecutive_healthy = greatest(factory_counters.consecutive_healthy + $3, 0)
		returning missed_heartbeats, consecutive_healthy`,
		factoryID, missedDelta, healthyDelta).Scan(&missed, &healthy)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return missed, healthy, nil
}

func (p *Postgres) ResetCounters(ctx context.Context, factoryID string) error {
	_, err := p.pool.Exec(ctx, `
		insert into factory_counters (factory_id, missed_heartbeats, consecutive_healthy)
		values ($1, 0, 0)
		on conflict (factory_id) do update set missed_heartbeats = 0, consecutive_healthy = 0`,
		factoryID)
	return err
}

func (p *Postgres) AppendFailoverEvent(ctx context.Context, ev fleet.FailoverEvent) error {
	_, err := p.pool.Exec(ctx, `
		insert into failover_events (event_id, factory_id, reason, target, ts)
		values ($1, $2, $3, $4, $5)
		on conflict (event_id) do nothing`,
		ev.EventID, ev.FactoryID, ev.Reason, ev.Target, ev.Timestamp)
	return err
}

func (p *Postgres) AppendStatusTransition(ctx context.Context, tr fleet.StatusTransition) error {
	_, err := p.pool.Exec(ctx,
		`insert into status_transitions (factory_id, from_status, to_status, reason, ts) values ($1, $2, $3, $4, $5)`,
		tr.FactoryID, tr.From, tr.To, tr.Reason, tr.Timestamp)
	return err
}

func (p *Postgres) LatestHeartbeat(ctx context.Context, sensorID string) (fleet.HeartbeatRecord, bool, error) {
	var hb fleet.HeartbeatRecord
	err := p.pool.QueryRow(ctx, `
		select sensor_id, factory_id, tier, ts from heartbeats
		where sensor_id = $1 order by ts desc limit 1`, sensorID).
		Scan(&hb.SensorID, &hb.FactoryID, &hb.Tier, &hb.Timestamp)
	if err == pgx.ErrNoRows {
		return fleet.HeartbeatRecord{}, false, nil
	}
	if err != nil {
		return fleet.HeartbeatRecord{}, false, err
	}
	return hb, true, nil
}

func (p *Postgres) HeartbeatsWithin(ctx context.Context, factoryID string, window time.Duration, now time.Time) ([]fleet.HeartbeatRecord, error) {
	rows, err := p.pool.Query(ctx, `
		select sensor_id, factory_id, tier, ts from heartbeats
		where factory_id = $1 and ts > $2 order by ts asc`,
		factoryID, now.Add(-window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.HeartbeatRecord
	for rows.Next() {
		var hb fleet.HeartbeatRecord
		if err := rows.Scan(&hb.SensorID, &hb.FactoryID, &hb.Tier, &hb.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestFactoryStatus(ctx context.Context, factoryID string) (FactoryHealthDoc, bool, error) {
	var doc FactoryHealthDoc
	f := &doc.Factory
	err := p.pool.QueryRow(ctx, `
		select factory_id, ok, warning, failed, total, status, risk, updated_at
		from factory_health where factory_id = $1`, factoryID).
		Scan(&f.FactoryID, &f.OK, &f.Warning, &f.Failed, &f.Total, &f.Status, &f.Risk, &doc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return FactoryHealthDoc{}, false, nil
	}
	if err != nil {
		return FactoryHealthDoc{}, false, err
	}
	return doc, true, nil
}

func (p *Postgres) FailoverEvents(ctx context.Context, factoryID string) ([]fleet.FailoverEvent, error) {
	rows, err := p.pool.Query(ctx, `
		select factory_id, reason, target, ts from failover_events
		where factory_id = $1 order by ts asc`, factoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.FailoverEvent
	for rows.Next() {
		var ev fleet.FailoverEvent
		if err := rows.Scan(&ev.FactoryID, &ev.Reason, &ev.Target, &ev.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) StatusTransitions(ctx context.Context, factoryID string) ([]fleet.StatusTransition, error) {
	rows, err := p.pool.Query(ctx, `
		select factory_id, from_status, to_status, reason, ts from status_transitions
		where factory_id = $1 order by ts asc`, factoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.StatusTransition
	for rows.Next() {
		var tr fleet.StatusTransition
		if err := rows.Scan(&tr.FactoryID, &tr.From, &tr.To, &tr.Reason, &tr.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (p *Postgres) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}
