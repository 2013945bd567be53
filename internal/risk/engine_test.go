package risk

import (
	"testing"

	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/fleet"
)

func testThresholds() config.Thresholds {
	return config.Thresholds{
		DegradedErrorRate: 0.05,
		HighErrorRate:     0.10,
	}
}

func TestScoreAllClearIsLow(t *testing.T) {
	e := New(testThresholds())
	_, level := e.Score(FactoryInput{Status: fleet.FactoryOperational})
	if level != fleet.RiskLow {
		t.Fatalf("expected LOW for a clean factory, got %s", level)
	}
}

func TestScoreHighErrorRateDrivesHigh(t *testing.T) {
	e := New(testThresholds())
	score, level := e.Score(FactoryInput{
		Status:           fleet.FactoryOperational,
		ErrorRate:        0.12,
		MissedHeartbeats: 3,
		CPUPct:           96,
	})
	if level != fleet.RiskHigh {
		t.Fatalf("expected HIGH, got %s (score=%v)", level, score)
	}
}

func TestScoreDownFactoryMaxesHeartbeatStability(t *testing.T) {
	e := New(testThresholds())
	score, _ := e.Score(FactoryInput{Status: fleet.FactoryDown})
	want := Weights.HeartbeatStability
	if score < want-1e-9 || score > want+1e-9 {
		t.Fatalf("expected score to equal the heartbeat_stability weight alone (%v), got %v", want, score)
	}
}

func TestLatencyTrendIncreaseBuckets(t *testing.T) {
	// Older half avg 100, newer half avg 160 -> 60% increase -> 0.8.
	score := latencyTrendScore([]float64{100, 100, 160, 160})
	if score != 0.8 {
		t.Fatalf("expected 0.8 for a >50%% increase, got %v", score)
	}
}

func TestLatencyTrendFallsBackToAbsoluteAverage(t *testing.T) {
	// No increase (flat window), but the absolute average is above 1000ms.
	score := latencyTrendScore([]float64{1500, 1500})
	if score != 0.6 {
		t.Fatalf("expected 0.6 absolute-average bucket, got %v", score)
	}
}

func TestShouldPreemptivelyRebalance(t *testing.T) {
	if !ShouldPreemptivelyRebalance(fleet.RiskHigh, true) {
		t.Fatalf("expected true when HIGH risk and another factory is operational")
	}
	if ShouldPreemptivelyRebalance(fleet.RiskHigh, false) {
		t.Fatalf("expected false with no other operational factory")
	}
	if ShouldPreemptivelyRebalance(fleet.RiskMedium, true) {
		t.Fatalf("expected false for non-HIGH risk")
	}
}
