// Package pms implements the PMS RPC Port (§4.9): a single report_status
// operation guarded by exponential backoff and a circuit breaker. The
// breaker is github.com/sony/gobreaker/v2, whose Settings map directly
// onto the open-after-3-failures/half-open-after-30s rule.
package pms

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/ferrors"
	"github.com/devansharora/fleetguard/internal/fleet"
	"github.com/devansharora/fleetguard/internal/observ"
)

// Result is the response shape from §6: "{success, message,
// orders_rescheduled?}".
type Result struct {
	Success           bool
	Message           string
	OrdersRescheduled int
}

// Client is the abstract production management system RPC surface
// (§4.9). HTTPClient and MockClient (an in-memory fake for tests)
// implement this directly; Port wraps any Client with backoff and
// circuit breaking.
type Client interface {
	ReportStatus(ctx context.Context, factoryID string, status fleet.LegacyFactoryStatus, reason string) (Result, error)
}

// Port wraps a Client with the retry and circuit-breaking policy every
// caller must get for free, rather than reimplementing it at each call
// site (failover and recovery orchestrators both call report_status).
type Port struct {
	client  Client
	breaker *gobreaker.CircuitBreaker[Result]
	cfg     config.PMS
}

func NewPort(client Client, cfg config.PMS) *Port {
	settings := gobreaker.Settings{
		Name:        "pms",
		MaxRequests: 1,
		Timeout:     time.Duration(cfg.CircuitOpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.CircuitMaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observ.Log("pms_circuit_state_change", map[string]any{"breaker": name, "from": from.String(), "to": to.String()})
		},
	}
	return &Port{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[Result](settings),
		cfg:     cfg,
	}
}

// ReportStatus applies bounded exponential backoff (base 0.5s, factor 2,
// max 3 attempts per §4.4/§4.9) inside the circuit breaker, so an open
// circuit fails every attempt fast without dialing out.
func (p *Port) ReportStatus(ctx context.Context, factoryID string, status fleet.LegacyFactoryStatus, reason string) (Result, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(p.cfg.BackoffBaseMs) * time.Millisecond
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	boWithLimit := backoff.WithMaxRetries(bo, uint64(p.cfg.MaxAttempts-1))

	op := func() (Result, error) {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
		res, err := p.breaker.Execute(func() (Result, error) {
			return p.client.ReportStatus(callCtx, factoryID, status, reason)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// Retrying into an open circuit wastes the remaining attempts.
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	result, err := backoff.RetryWithData(op, boWithLimit)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observ.Warn("pms_circuit_open", map[string]any{"factory_id": factoryID})
			return Result{Success: false, Message: "Circuit breaker open"}, &ferrors.CircuitOpen{Breaker: "pms"}
		}
		observ.Error("pms_report_status_failed", map[string]any{"factory_id": factoryID, "error": err.Error()})
		return Result{}, &ferrors.RemoteRPCError{Op: "report_status", Err: err}
	}
	return result, nil
}
