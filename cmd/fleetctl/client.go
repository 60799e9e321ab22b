package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
)

// apiClient is a thin HTTP client over the request surface internal/transport/http
// mounts, the same table of item/agent/approval routes the web UI and
// fleetforge's own handlers serve.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("fleetctl: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("fleetctl: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fleetctl: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fleetctl: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type itemView struct {
	orch.Item
	Status string `json:"status"`
}

func (c *apiClient) createItem(ctx context.Context, req createItemRequest) (orch.Item, error) {
	var it orch.Item
	err := c.do(ctx, http.MethodPost, "/api/v1/items", req, &it)
	return it, err
}

func (c *apiClient) getItem(ctx context.Context, itemID string) (itemView, error) {
	var it itemView
	err := c.do(ctx, http.MethodGet, "/api/v1/items/"+itemID, nil, &it)
	return it, err
}

// listItems returns the bare item list; unlike getItem this endpoint
// does not derive per-item status, to avoid re-reading every item's
// full event log on a single listing call.
func (c *apiClient) listItems(ctx context.Context) ([]orch.Item, error) {
	var items []orch.Item
	err := c.do(ctx, http.MethodGet, "/api/v1/items", nil, &items)
	return items, err
}

type createItemRequest struct {
	Name         string                  `json:"name"`
	Description  string                  `json:"description"`
	DesignDoc    string                  `json:"designDoc"`
	Repositories []orch.RepositoryConfig `json:"repositories"`
}

func (c *apiClient) listPendingApprovals(ctx context.Context, itemID string) ([]orch.Event, error) {
	var events []orch.Event
	err := c.do(ctx, http.MethodGet, "/api/v1/items/"+itemID+"/approvals", nil, &events)
	return events, err
}

type decideApprovalRequest struct {
	EventID  string `json:"eventId"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (c *apiClient) decideApproval(ctx context.Context, itemID string, req decideApprovalRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/items/"+itemID+"/approvals/decide", req, nil)
}

func (c *apiClient) sendAgentInput(ctx context.Context, itemID, agentID string, data []byte) error {
	return c.do(ctx, http.MethodPost, "/api/v1/items/"+itemID+"/agents/"+agentID+"/input", map[string]string{"data": string(data)}, nil)
}

func (c *apiClient) resizeAgent(ctx context.Context, itemID, agentID string, cols, rows int) error {
	return c.do(ctx, http.MethodPost, "/api/v1/items/"+itemID+"/agents/"+agentID+"/resize", map[string]int{"cols": cols, "rows": rows}, nil)
}

func (c *apiClient) agentOutputBuffer(ctx context.Context, itemID, agentID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/items/"+itemID+"/agents/"+agentID+"/output", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// wsURL rewrites the configured HTTP(S) base URL to its WS(S)
// equivalent for the item stream endpoint.
func (c *apiClient) wsURL(itemID string) string {
	base := c.baseURL
	switch {
	case len(base) >= 5 && base[:5] == "https":
		base = "wss" + base[5:]
	case len(base) >= 4 && base[:4] == "http":
		base = "ws" + base[4:]
	}
	return base + "/api/v1/items/" + itemID + "/stream"
}
