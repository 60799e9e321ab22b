package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	fleetmcp "github.com/fleetforge/orchestrator/internal/adapter/mcp"
	"github.com/fleetforge/orchestrator/internal/domain/orch"
)

// --- Fakes ---

type fakeItemReader struct {
	items map[string]fleetmcp.ItemStatusView
	err   error
}

func (f *fakeItemReader) ListItems(_ context.Context) ([]fleetmcp.ItemStatusView, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]fleetmcp.ItemStatusView, 0, len(f.items))
	for _, v := range f.items {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeItemReader) GetItem(_ context.Context, itemID string) (fleetmcp.ItemStatusView, error) {
	if f.err != nil {
		return fleetmcp.ItemStatusView{}, f.err
	}
	v, ok := f.items[itemID]
	if !ok {
		return fleetmcp.ItemStatusView{}, errors.New("item not found")
	}
	return v, nil
}

type fakeApprovalReader struct {
	events map[string][]orch.Event
	err    error
}

func (f *fakeApprovalReader) ListPendingApprovals(_ context.Context, itemID string) ([]orch.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events[itemID], nil
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	cfg := fleetmcp.ServerConfig{
		Addr:    ":3001",
		Name:    "test-server",
		Version: "0.1.0",
	}
	s := fleetmcp.NewServer(cfg, fleetmcp.ServerDeps{})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := fleetmcp.ServerConfig{
		Addr:    ":0",
		Name:    "test-server",
		Version: "0.1.0",
	}
	s := fleetmcp.NewServer(cfg, fleetmcp.ServerDeps{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Addr() == "" {
		t.Fatal("expected a bound address after Start")
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	deps := fleetmcp.ServerDeps{
		Items: &fakeItemReader{
			items: map[string]fleetmcp.ItemStatusView{
				"item-1": {Item: orch.Item{ID: "item-1", Name: "One"}, Status: "running"},
			},
		},
		Approvals: &fakeApprovalReader{},
	}
	s := fleetmcp.NewServer(fleetmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}

	expectedTools := map[string]bool{
		"list_items":             false,
		"get_item":               false,
		"list_pending_approvals": false,
	}
	for name := range tools {
		if _, ok := expectedTools[name]; ok {
			expectedTools[name] = true
		} else {
			t.Errorf("unexpected tool: %s", name)
		}
	}
	for name, found := range expectedTools {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleListItems(t *testing.T) {
	deps := fleetmcp.ServerDeps{
		Items: &fakeItemReader{
			items: map[string]fleetmcp.ItemStatusView{
				"item-1": {Item: orch.Item{ID: "item-1", Name: "Alpha"}, Status: "running"},
				"item-2": {Item: orch.Item{ID: "item-2", Name: "Beta"}, Status: "done"},
			},
		},
	}
	s := fleetmcp.NewServer(fleetmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	ctx := context.Background()

	tools := s.MCPServer().ListTools()
	listTool, ok := tools["list_items"]
	if !ok {
		t.Fatal("list_items tool not found")
	}

	result, err := listTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "list_items"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var items []fleetmcp.ItemStatusView
	if err := json.Unmarshal([]byte(text.Text), &items); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestHandleGetItem(t *testing.T) {
	deps := fleetmcp.ServerDeps{
		Items: &fakeItemReader{
			items: map[string]fleetmcp.ItemStatusView{
				"item-abc": {Item: orch.Item{ID: "item-abc", Name: "Abc"}, Status: "review"},
			},
		},
	}
	s := fleetmcp.NewServer(fleetmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	getTool, ok := tools["get_item"]
	if !ok {
		t.Fatal("get_item tool not found")
	}

	ctx := context.Background()
	result, err := getTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "get_item",
			Arguments: map[string]any{"item_id": "item-abc"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var item fleetmcp.ItemStatusView
	if err := json.Unmarshal([]byte(text.Text), &item); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if item.Status != "review" {
		t.Fatalf("expected status %q, got %q", "review", item.Status)
	}
}

func TestHandleGetItemMissingArg(t *testing.T) {
	deps := fleetmcp.ServerDeps{
		Items: &fakeItemReader{items: map[string]fleetmcp.ItemStatusView{}},
	}
	s := fleetmcp.NewServer(fleetmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	getTool, ok := tools["get_item"]
	if !ok {
		t.Fatal("get_item tool not found")
	}

	ctx := context.Background()
	result, err := getTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "get_item"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing item_id")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := fleetmcp.NewServer(fleetmcp.ServerConfig{Name: "test", Version: "0.1.0"}, fleetmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	listTool, ok := tools["list_items"]
	if !ok {
		t.Fatal("list_items tool not found")
	}

	ctx := context.Background()
	result, err := listTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "list_items"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when deps are nil")
	}
}

func TestHandleListPendingApprovals(t *testing.T) {
	deps := fleetmcp.ServerDeps{
		Approvals: &fakeApprovalReader{
			events: map[string][]orch.Event{
				"item-1": {
					{ID: "ev-1", Type: orch.EventApprovalRequested, ItemID: "item-1", AgentID: "agent-1"},
				},
			},
		},
	}
	s := fleetmcp.NewServer(fleetmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	approvalTool, ok := tools["list_pending_approvals"]
	if !ok {
		t.Fatal("list_pending_approvals tool not found")
	}

	ctx := context.Background()
	result, err := approvalTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "list_pending_approvals",
			Arguments: map[string]any{"item_id": "item-1"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var events []orch.Event
	if err := json.Unmarshal([]byte(text.Text), &events); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(events))
	}
}
