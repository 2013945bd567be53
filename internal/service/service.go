// Package service is the composition root: it wires the sensor store,
// factory aggregator, risk engine, failover/recovery orchestrator,
// ingestion dispatcher and supervisor into one running process, and
// exposes a health snapshot.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/devansharora/fleetguard/internal/bus"
	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/factoryhealth"
	"github.com/devansharora/fleetguard/internal/failover"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/ingestion"
	"github.com/devansharora/fleetguard/internal/observ"
	"github.com/devansharora/fleetguard/internal/persistence"
	"github.com/devansharora/fleetguard/internal/pms"
	"github.com/devansharora/fleetguard/internal/risk"
	"github.com/devansharora/fleetguard/internal/sensorstore"
	"github.com/devansharora/fleetguard/internal/supervisor"
)

// Health reports the liveness of every long-running subsystem.
type Health struct {
	BusState     string
	FactoryCount int
	LastTickUnix int64
}

// Deps are the concrete collaborators the composition root cannot build
// itself: a real Kafka client, a real Postgres pool, or test fakes.
type Deps struct {
	Consumer  bus.Consumer
	Producer  bus.Producer
	Persist   persistence.Port
	PMSClient pms.Client

	// RiskInput assembles risk.FactoryInput per factory on each tick; see
	// supervisor.RiskInputFunc. A nil value falls back to Service's own
	// heartbeat-only default rather than disabling risk scoring outright;
	// supply a real implementation to feed error rate, latency and
	// resource usage signals in from an external telemetry source.
	RiskInput supervisor.RiskInputFunc
}

// Service owns the whole running process.
type Service struct {
	cfg config.Root

	store   *sensorstore.Store
	agg     *factoryhealth.Aggregator
	tracker *risk.Tracker
	engine  *risk.Engine
	persist persistence.Port
	pmsPort *pms.Port
	orch    *failover.Orchestrator
	disp    *ingestion.Dispatcher
	sup     *supervisor.Supervisor

	consumer bus.Consumer
	producer bus.Producer

	mu       sync.RWMutex
	lastTick time.Time

	wg sync.WaitGroup
}

func New(cfg config.Root, deps Deps) *Service {
	store := sensorstore.New(cfg.Thresholds.SensorTimeout())

	s := &Service{
		cfg:      cfg,
		store:    store,
		tracker:  risk.NewTracker(risk.TrackerConfig{Threshold: cfg.Thresholds.AtRiskReadingThreshold, ConsecutiveLow: cfg.Thresholds.AtRiskConsecutiveCount}),
		engine:   risk.New(cfg.Thresholds),
		persist:  deps.Persist,
		pmsPort:  pms.NewPort(deps.PMSClient, cfg.PMS),
		consumer: deps.Consumer,
		producer: deps.Producer,
	}

	s.agg = factoryhealth.New(store, cfg.Thresholds, s.onTransition)
	s.orch = failover.New(s.agg, s.persist, s.pmsPort, store.FactoryIDs, cfg.Thresholds.RecoveryConsecutiveHealthy, s.onFailover, s.onRecovery)

	topics := ingestion.Topics{
		Heartbeat:     cfg.Bus.HeartbeatTopic,
		Readings:      cfg.Bus.ReadingsTopic,
		SensorFailure: cfg.Bus.FailureTopic,
		Restart:       cfg.Bus.RestartTopic,
		AtRisk:        cfg.Bus.AtRiskTopic,
	}
	s.disp = ingestion.New(topics, store, s.agg, s.tracker, s.persist, s.producer, cfg.Thresholds.AtRiskReadingThreshold)

	riskIn := deps.RiskInput
	if riskIn == nil {
		riskIn = s.defaultRiskInput
	}
	s.sup = supervisor.New(store, s.agg, s.engine, s.orch, s.orch, riskIn, s.persist,
		cfg.Thresholds.HeartbeatTimeout(), cfg.Thresholds.RecoveryConsecutiveHealthy,
		time.Duration(cfg.Supervisor.TickIntervalSeconds)*time.Second)

	return s
}

// defaultRiskInput is used whenever the caller supplies no RiskInputFunc.
// It scores purely on the heartbeat_stability factor this process already
// tracks internally (§4.3); error_rate, latency_window and resource usage
// stay at their lowest-risk defaults until a caller wires a RiskInputFunc
// backed by a real telemetry integration (§1 non-goal: none is built
// here). This keeps risk scoring live, but the highest score it can
// reach is the heartbeat_stability weight (0.3), which classifies as LOW,
// so preemptive rebalance never fires with this default input.
func (s *Service) defaultRiskInput(factoryID string) risk.FactoryInput {
	f, _ := s.agg.Last(factoryID)
	return risk.FactoryInput{
		FactoryID:        factoryID,
		Status:           f.Status,
		MissedHeartbeats: f.MissedHeartbeats,
	}
}

// onTransition persists every factory status transition the aggregator
// emits, independent of whether a failover/recovery follows.
func (s *Service) onTransition(tr fleet.StatusTransition) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persist.AppendStatusTransition(ctx, tr); err != nil {
		observ.Error("persistence_write_failed", map[string]any{"op": "append_status_transition", "error": err.Error()})
	}
}

func (s *Service) onFailover(f fleet.Factory, reason string, backup *string, result pms.Result) {
	observ.Log("failover_completed", map[string]any{
		"factory_id": f.FactoryID, "reason": reason, "backup": backup, "pms_success": result.Success,
	})
}

func (s *Service) onRecovery(f fleet.Factory, previousStatus fleet.FactoryStatus) {
	observ.Log("recovery_completed", map[string]any{"factory_id": f.FactoryID, "from": string(previousStatus)})
}

// Run starts the consumer and supervisor loops and blocks until ctx is
// cancelled, then drains in-flight work and closes the bus (§5:
// "broadcast signal... drain... close the bus... flush persistence").
func (s *Service) Run(ctx context.Context) error {
	logger, err := observ.NewLogger(s.cfg.LogLevel)
	if err == nil {
		observ.Init(logger)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.consumer.Run(ctx, s.disp.Handle); err != nil {
			observ.Error("bus_consumer_exited", map[string]any{"error": err.Error()})
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Duration(s.cfg.Supervisor.TickIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.sup.Tick(ctx, now)
				s.mu.Lock()
				s.lastTick = now
				s.mu.Unlock()
			}
		}
	}()

	<-ctx.Done()
	s.wg.Wait()

	if err := s.consumer.Close(); err != nil {
		observ.Warn("bus_close_failed", map[string]any{"error": err.Error()})
	}
	if err := s.producer.Close(); err != nil {
		observ.Warn("bus_producer_close_failed", map[string]any{"error": err.Error()})
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persist.Close(flushCtx); err != nil {
		observ.Warn("persistence_close_failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// HealthSnapshot reports current liveness for an external readiness
// check (§1's non-goals exclude the HTTP surface itself; this method is
// what such a surface, if built elsewhere, would call).
func (s *Service) HealthSnapshot() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Health{
		BusState:     s.consumer.State().String(),
		FactoryCount: len(s.store.FactoryIDs()),
		LastTickUnix: s.lastTick.Unix(),
	}
}
