package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listItemsTool(),
		s.getItemTool(),
		s.listPendingApprovalsTool(),
	)
}

func (s *Server) listItemsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_items",
		mcplib.WithDescription("List every item tracked by the fleet, with its derived status"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListItems,
	}
}

func (s *Server) getItemTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_item",
		mcplib.WithDescription("Get a single item by ID, including its derived status"),
		mcplib.WithString("item_id",
			mcplib.Required(),
			mcplib.Description("The item ID to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetItem,
	}
}

func (s *Server) listPendingApprovalsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_pending_approvals",
		mcplib.WithDescription("List the approval requests an item's agents are currently blocked on"),
		mcplib.WithString("item_id",
			mcplib.Required(),
			mcplib.Description("The item ID to check for pending approvals"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListPendingApprovals,
	}
}

func (s *Server) handleListItems(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Items == nil {
		return mcplib.NewToolResultError("item reader not configured"), nil
	}
	items, err := s.deps.Items.ListItems(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list items", err), nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal items", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetItem(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Items == nil {
		return mcplib.NewToolResultError("item reader not configured"), nil
	}
	args := req.GetArguments()
	itemID, ok := args["item_id"].(string)
	if !ok || itemID == "" {
		return mcplib.NewToolResultError("item_id is required"), nil
	}
	it, err := s.deps.Items.GetItem(ctx, itemID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get item %s", itemID), err,
		), nil
	}
	data, err := json.Marshal(it)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal item", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListPendingApprovals(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Approvals == nil {
		return mcplib.NewToolResultError("approval reader not configured"), nil
	}
	args := req.GetArguments()
	itemID, ok := args["item_id"].(string)
	if !ok || itemID == "" {
		return mcplib.NewToolResultError("item_id is required"), nil
	}
	events, err := s.deps.Approvals.ListPendingApprovals(ctx, itemID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to list pending approvals for %s", itemID), err,
		), nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal approvals", err), nil
	}
	return toolResultJSON(string(data)), nil
}

// toolResultJSON wraps a JSON payload as a successful tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
