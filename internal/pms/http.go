package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/devansharora/fleetguard/internal/fleet"
)

// HTTPClient is the production Client implementation, grounded on the
// teacher's internal/adapters/factory.go config-driven HTTP client
// selection. It speaks a single JSON POST to endpoint/report-status.
type HTTPClient struct {
	endpoint string
	http     *http.Client
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{endpoint: endpoint, http: &http.Client{}}
}

type reportStatusRequest struct {
	FactoryID string `json:"factory_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

type reportStatusResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	OrdersRescheduled int    `json:"orders_rescheduled"`
}

func (c *HTTPClient) ReportStatus(ctx context.Context, factoryID string, status fleet.LegacyFactoryStatus, reason string) (Result, error) {
	body, err := json.Marshal(reportStatusRequest{FactoryID: factoryID, Status: string(status), Reason: reason})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/report-status", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("pms returned status %d", resp.StatusCode)
	}

	var out reportStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, err
	}
	return Result{Success: out.Success, Message: out.Message, OrdersRescheduled: out.OrdersRescheduled}, nil
}
