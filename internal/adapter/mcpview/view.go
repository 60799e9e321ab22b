// Package mcpview adapts the orchestration core's item manager and
// event logs into the read-only internal/adapter/mcp.ItemReader and
// ApprovalReader interfaces, the same derived-status projection
// internal/transport/http's item handlers build for GET requests.
package mcpview

import (
	"context"
	"fmt"

	fleetmcp "github.com/fleetforge/orchestrator/internal/adapter/mcp"
	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/deriver"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	"github.com/fleetforge/orchestrator/internal/orch/item"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
)

// View implements fleetmcp.ItemReader and fleetmcp.ApprovalReader over
// the same item manager and on-disk event logs the HTTP and gRPC
// transports read.
type View struct {
	Layout  layout.Layout
	Items   *item.Manager
	Deriver *deriver.MemoizedDeriver
}

var _ fleetmcp.ItemReader = (*View)(nil)
var _ fleetmcp.ApprovalReader = (*View)(nil)

func (v *View) readEvents(itemID string) ([]orch.Event, error) {
	log := eventlog.Open(v.Layout.ItemEventLogPath(itemID))
	events, err := log.Read()
	if err != nil {
		return nil, fmt.Errorf("mcpview: read item log: %w", err)
	}
	return events, nil
}

func (v *View) status(itemID string, events []orch.Event) deriver.ItemStatus {
	if v.Deriver != nil {
		return v.Deriver.DeriveItemStatus(itemID, events)
	}
	return deriver.DeriveItemStatus(events)
}

// ListItems returns every item on disk with its derived status.
func (v *View) ListItems(_ context.Context) ([]fleetmcp.ItemStatusView, error) {
	items, err := v.Items.ListItems()
	if err != nil {
		return nil, err
	}
	out := make([]fleetmcp.ItemStatusView, 0, len(items))
	for _, it := range items {
		events, err := v.readEvents(it.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, fleetmcp.ItemStatusView{Item: it, Status: string(v.status(it.ID, events))})
	}
	return out, nil
}

// GetItem returns one item with its derived status.
func (v *View) GetItem(_ context.Context, itemID string) (fleetmcp.ItemStatusView, error) {
	it, err := v.Items.LoadItem(itemID)
	if err != nil {
		return fleetmcp.ItemStatusView{}, err
	}
	events, err := v.readEvents(itemID)
	if err != nil {
		return fleetmcp.ItemStatusView{}, err
	}
	return fleetmcp.ItemStatusView{Item: it, Status: string(v.status(itemID, events))}, nil
}

// ListPendingApprovals returns the item's unresolved approval_requested events.
func (v *View) ListPendingApprovals(_ context.Context, itemID string) ([]orch.Event, error) {
	events, err := v.readEvents(itemID)
	if err != nil {
		return nil, err
	}
	return deriver.PendingApprovals(events), nil
}
