package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"fleet://items",
			"Item List",
			mcplib.WithResourceDescription("Every item currently tracked, with its derived status"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleItemsResource,
	)
}

func (s *Server) handleItemsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Items == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"item reader not configured"}`,
			},
		}, nil
	}
	items, err := s.deps.Items.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
