// Package risk implements the Risk Engine (§4.3): a weighted factory
// risk scorer plus a per-sensor at-risk latch detector. Grounded on the
// teacher's internal/decision/engine.go Config/Reason shape for the
// weighted-score engine and internal/risk/drawdown.go for the rolling
// window used by the at-risk latch.
package risk

import (
	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/fleet"
)

// FactoryInput is the set of raw signals the engine needs to score one
// factory on a given tick. Callers assemble this from the sensor store,
// factory aggregator and upstream telemetry; the engine itself holds no
// state about factories (all memory lives in the per-sensor Tracker).
type FactoryInput struct {
	FactoryID string
	Status    fleet.FactoryStatus

	ErrorRate float64 // fraction, e.g. 0.05

	// LatencyWindow is a time-ordered window of recent latency samples in
	// milliseconds; the older and newer halves are compared for trend.
	LatencyWindow []float64

	MissedHeartbeats int

	CPUPct float64
	MemPct float64
}

// Weights mirrors the §4.3 table. Exported so callers/tests can assert
// against the documented values without duplicating them.
var Weights = struct {
	ErrorRate           float64
	LatencyTrend        float64
	HeartbeatStability  float64
	ResourceUsage       float64
}{
	ErrorRate:          0.30,
	LatencyTrend:       0.20,
	HeartbeatStability: 0.30,
	ResourceUsage:      0.20,
}

// Engine scores factories according to the configured thresholds.
type Engine struct {
	thresholds config.Thresholds
}

func New(thresholds config.Thresholds) *Engine {
	return &Engine{thresholds: thresholds}
}

// Score computes the weighted risk score in [0,1] and its classification
// for a single factory.
func (e *Engine) Score(in FactoryInput) (score float64, level fleet.RiskLevel) {
	score = Weights.ErrorRate*errorRateScore(in.ErrorRate, e.thresholds) +
		Weights.LatencyTrend*latencyTrendScore(in.LatencyWindow) +
		Weights.HeartbeatStability*heartbeatStabilityScore(in.MissedHeartbeats, in.Status) +
		Weights.ResourceUsage*resourceUsageScore(in.CPUPct, in.MemPct)

	switch {
	case score >= 0.7:
		level = fleet.RiskHigh
	case score >= 0.4:
		level = fleet.RiskMedium
	default:
		level = fleet.RiskLow
	}
	return score, level
}

func errorRateScore(rate float64, t config.Thresholds) float64 {
	switch {
	case rate <= 0:
		return 0
	case rate >= t.HighErrorRate:
		return 1.0
	case rate >= t.DegradedErrorRate:
		return 0.6
	default:
		return 0.3
	}
}

// latencyTrendScore compares the average of the older half of the window
// to the newer half, falling back to absolute-average buckets when the
// window is too small to split or shows no increase.
func latencyTrendScore(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	avg := average(window)

	if len(window) >= 2 {
		mid := len(window) / 2
		older := average(window[:mid])
		newer := average(window[mid:])
		if older > 0 {
			increase := (newer - older) / older
			switch {
			case increase > 0.5:
				return 0.8
			case increase > 0.2:
				return 0.5
			case increase > 0:
				return 0.2
			}
		}
	}

	switch {
	case avg > 2000:
		return 0.9
	case avg > 1000:
		return 0.6
	case avg > 500:
		return 0.3
	default:
		return 0
	}
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func heartbeatStabilityScore(missed int, status fleet.FactoryStatus) float64 {
	if status == fleet.FactoryDown {
		return 1.0
	}
	if status == fleet.FactoryDegraded {
		return 0.6
	}
	switch {
	case missed >= 3:
		return 1.0
	case missed == 2:
		return 0.7
	case missed == 1:
		return 0.4
	default:
		return 0
	}
}

func resourceUsageScore(cpuPct, memPct float64) float64 {
	max := cpuPct
	if memPct > max {
		max = memPct
	}
	switch {
	case max >= 95:
		return 1.0
	case max >= 85:
		return 0.7
	case max >= 70:
		return 0.4
	case max >= 50:
		return 0.2
	default:
		return 0
	}
}

// ShouldPreemptivelyRebalance implements should_preemptively_rebalance:
// true when f is HIGH risk and at least one other factory is currently
// up/operational, i.e. there is somewhere to move load to.
func ShouldPreemptivelyRebalance(level fleet.RiskLevel, anyOtherOperational bool) bool {
	return level == fleet.RiskHigh && anyOtherOperational
}
