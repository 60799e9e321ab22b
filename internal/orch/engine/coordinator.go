// Package engine wires the per-item lifecycle together: it reacts to
// plan_created events on the global bus and drives an item through
// the dev phase, the per-repository review loop, and finalization.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/item"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
	"github.com/fleetforge/orchestrator/internal/orch/worker"
)

// Coordinator reacts to plan_created events rather than being called
// synchronously by the request surface, the same way CodeForge's
// runtime subscribes to its own NATS result stream instead of being
// driven directly by the HTTP layer. This lets both the normal
// planning path (item.Manager.SetupWorkspace auto-starting a planner)
// and the review-receive path (reviewreceive.Controller re-starting
// one) feed the same downstream machinery without either caller
// needing to know about dev/review/finalize at all.
type Coordinator struct {
	layout layout.Layout
	bus    *bus.Bus
	items  *item.Manager
	worker *worker.Controller
}

// New constructs a Coordinator.
func New(l layout.Layout, b *bus.Bus, items *item.Manager, w *worker.Controller) *Coordinator {
	return &Coordinator{layout: l, bus: b, items: items, worker: w}
}

// Run subscribes to the bus and processes plan_created events until
// ctx is cancelled. Intended to run for the process's lifetime in its
// own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	events, unsubscribe := c.bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != orch.EventPlanCreated {
				continue
			}
			itemID := ev.ItemID
			go func() {
				if err := c.runPlan(ctx, itemID); err != nil {
					slog.Error("engine: run plan failed", "item_id", itemID, "error", err)
				}
			}()
		}
	}
}

// runPlan executes the dev phase, then the per-repository review loop
// concurrently, then finalization, for the plan currently on disk for
// itemID.
func (c *Coordinator) runPlan(ctx context.Context, itemID string) error {
	it, err := c.items.LoadItem(itemID)
	if err != nil {
		return fmt.Errorf("engine: load item: %w", err)
	}
	plan, err := loadPlan(c.layout.PlanPath(itemID))
	if err != nil {
		return fmt.Errorf("engine: load plan: %w", err)
	}

	if err := c.worker.RunDevPhase(ctx, itemID, plan); err != nil {
		return fmt.Errorf("engine: dev phase: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, repo := range it.Repositories {
		repo := repo
		g.Go(func() error {
			return c.worker.RunReviewLoop(gctx, itemID, repo.DirectoryName, plan)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine: review loop: %w", err)
	}

	return c.worker.Finalize(ctx, itemID, it)
}

func loadPlan(path string) (orch.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return orch.Plan{}, err
	}
	var p orch.Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return orch.Plan{}, err
	}
	return p, nil
}
