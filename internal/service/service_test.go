package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devansharora/fleetguard/internal/bus"
	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/persistence"
	"github.com/devansharora/fleetguard/internal/pms"
)

// This is an integration-shaped test exercising the full wiring: a
// heartbeat delivered through the in-memory bus should be visible in
// persistence and the health snapshot.
func TestServiceWiresHeartbeatThroughToPersistence(t *testing.T) {
	cfg := config.Root{
		LogLevel: "error",
		Bus: config.Bus{
			HeartbeatTopic: "factory.heartbeat",
			ReadingsTopic:  "factory.readings",
			FailureTopic:   "factory.sensor-failure",
			RestartTopic:   "factory.restart",
			AtRiskTopic:    "factory.sensor-at-risk",
		},
		PMS:        config.PMS{TimeoutSeconds: 1, MaxAttempts: 1, BackoffBaseMs: 1, CircuitMaxFailures: 3, CircuitOpenSeconds: 30},
		Thresholds: config.Thresholds{FactoryOperationalPct: 80, FactoryDegradedPct: 50, FactoryCriticalPct: 20, SensorTimeoutSeconds: 5, AtRiskReadingThreshold: 70, AtRiskConsecutiveCount: 3, RecoveryConsecutiveHealthy: 5},
		Supervisor: config.Supervisor{TickIntervalSeconds: 1},
	}

	mb := bus.NewMemoryBus()
	persist := persistence.NewMemory()
	svc := New(cfg, Deps{
		Consumer:  mb,
		Producer:  mb,
		Persist:   persist,
		PMSClient: &pms.MockClient{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()

	// Give the consumer goroutine a moment to register its handler.
	require.Eventually(t, func() bool {
		return mb.State() == bus.StateConnected
	}, time.Second, time.Millisecond)

	payload, err := json.Marshal(map[string]any{
		"sensorId": "s1", "factoryId": "f1", "tier": "critical", "timestamp": time.Now(),
	})
	require.NoError(t, err)
	mb.Deliver(ctx, bus.Record{Topic: "factory.heartbeat", Payload: payload})

	require.Eventually(t, func() bool {
		hb, ok, _ := persist.LatestHeartbeat(ctx, "s1")
		return ok && hb.FactoryID == "f1"
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
