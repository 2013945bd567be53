package pms

import (
	"context"
	"sync"

	"github.com/devansharora/fleetguard/internal/fleet"
)

// MockClient is an in-memory Client fake used by tests.
type MockClient struct {
	mu    sync.Mutex
	Fail  bool
	calls []call
}

type call struct {
	FactoryID string
	Status    fleet.LegacyFactoryStatus
	Reason    string
}

func (m *MockClient) ReportStatus(ctx context.Context, factoryID string, status fleet.LegacyFactoryStatus, reason string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{factoryID, status, reason})
	if m.Fail {
		return Result{}, context.DeadlineExceeded
	}
	return Result{Success: true, Message: "ok"}, nil
}

func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
