// Package reviewreceive re-opens a completed or errored item's cycle
// from pull-request review feedback: it validates the item is in a
// re-openable state, archives the prior plan, and spawns a fresh
// review-receiver agent bound to the requesting repository's pull
// request.
package reviewreceive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/agentmgr"
	"github.com/fleetforge/orchestrator/internal/orch/audit"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/deriver"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	"github.com/fleetforge/orchestrator/internal/orch/item"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
	"github.com/fleetforge/orchestrator/internal/orch/orcherr"
	"github.com/fleetforge/orchestrator/internal/orch/planwatch"
)

// IDClock supplies event ids and timestamps.
type IDClock interface {
	NewEventID() string
	Now() time.Time
}

// PRInfo is the pull-request this review-receive cycle targets.
type PRInfo struct {
	Repository string
	PRURL      string
	PRNumber   int
}

// PromptFunc builds a review-receiver agent's initial prompt.
type PromptFunc func(it orch.Item, pr PRInfo) string

// Controller is the per-item-serialized entry point for re-opening a
// completed cycle.
type Controller struct {
	layout  layout.Layout
	bus     *bus.Bus
	agents  *agentmgr.Manager
	items   *item.Manager
	planner *planwatch.Watcher
	clock   IDClock
	prompt  PromptFunc
	audit   *audit.Recorder

	chains sync.Map // itemID -> chan struct{} (FIFO chain tail)
}

// SetAuditRecorder attaches an audit trail recorder. Safe to leave
// unset; a Controller with no recorder narrates nothing.
func (c *Controller) SetAuditRecorder(r *audit.Recorder) {
	c.audit = r
}

// New constructs a Controller.
func New(l layout.Layout, b *bus.Bus, agents *agentmgr.Manager, items *item.Manager, planner *planwatch.Watcher, clock IDClock, prompt PromptFunc) *Controller {
	return &Controller{
		layout:  l,
		bus:     b,
		agents:  agents,
		items:   items,
		planner: planner,
		clock:   clock,
		prompt:  prompt,
	}
}

// acquireChain returns a release func; the caller must call it exactly
// once after the serialized section completes. A request's own turn
// begins only once release has been called on the previous tail. Once
// released, the chain's map entry is cleared if no successor has
// swapped in behind it, so a finished item doesn't hold a chains entry
// for the life of the process.
func (c *Controller) acquireChain(itemID string) func() {
	myTurn := make(chan struct{})
	prev, loaded := c.chains.Swap(itemID, myTurn)
	if loaded {
		<-prev.(chan struct{})
	}
	return func() {
		close(myTurn)
		c.chains.CompareAndDelete(itemID, myTurn)
	}
}

// StartReviewReceive validates the item's state, locates the target
// pull request, archives the prior plan, and spawns a review-receiver
// agent. Requests for the same item are serialized: a concurrent call
// waits for this one to finish before it begins.
func (c *Controller) StartReviewReceive(ctx context.Context, itemID string, repoName *string) (orch.Agent, error) {
	release := c.acquireChain(itemID)
	defer release()

	it, err := c.items.LoadItem(itemID)
	if err != nil {
		return orch.Agent{}, orcherr.New(orcherr.KindValidation, "reviewreceive.StartReviewReceive", err)
	}

	itemLog := eventlog.Open(c.layout.ItemEventLogPath(itemID))
	events, err := itemLog.Read()
	if err != nil {
		return orch.Agent{}, fmt.Errorf("reviewreceive: read item log: %w", err)
	}

	status := deriver.DeriveItemStatus(events)
	if status != deriver.StatusCompleted && status != deriver.StatusError {
		return orch.Agent{}, orcherr.Wrap(orcherr.KindValidation, "reviewreceive.StartReviewReceive",
			"item %q is not in a re-openable state (derived status %q)", itemID, status)
	}

	if hasActiveReviewReceiver(events) {
		return orch.Agent{}, orcherr.Wrap(orcherr.KindValidation, "reviewreceive.StartReviewReceive",
			"item %q already has an active review-receiver agent", itemID)
	}

	pr, err := locatePR(events, repoName)
	if err != nil {
		return orch.Agent{}, err
	}

	agentID := agentmgr.GenerateAgentID(orch.RoleReviewReceiver, nil)

	if err := c.emit(itemID, orch.EventReviewReceiveStarted, orch.ReviewReceiveStartedPayload{
		AgentID:    agentID,
		PRNumber:   pr.PRNumber,
		PRURL:      pr.PRURL,
		Repository: pr.Repository,
	}); err != nil {
		return orch.Agent{}, fmt.Errorf("reviewreceive: emit review_receive_started: %w", err)
	}
	c.audit.Recordf(ctx, itemID, agentID, "review_receive.started", "review-receive started for %s against PR #%d (%s)", pr.Repository, pr.PRNumber, pr.PRURL)

	if err := c.archivePlan(itemID); err != nil {
		return orch.Agent{}, fmt.Errorf("reviewreceive: archive prior plan: %w", err)
	}

	if c.planner != nil {
		go func() {
			_ = c.planner.Watch(context.Background(), itemID, orch.RoleReviewReceiver, agentID)
		}()
	}

	workdir := c.layout.WorkspaceRoot(itemID)
	prompt := ""
	if c.prompt != nil {
		prompt = c.prompt(it, pr)
	}

	return c.agents.StartWithID(ctx, itemID, agentID, orch.RoleReviewReceiver, nil, workdir, prompt)
}

func (c *Controller) emit(itemID string, kind orch.EventKind, payload any) error {
	ev := orch.Event{
		ID:        c.clock.NewEventID(),
		Type:      kind,
		Timestamp: c.clock.Now(),
		ItemID:    itemID,
	}
	if payload != nil {
		ev.Payload = orch.MustPayload(payload)
	}
	log := eventlog.Open(c.layout.ItemEventLogPath(itemID))
	if err := log.Append(ev); err != nil {
		return err
	}
	c.bus.Publish(ev)
	return nil
}

// archivePlan renames an existing plan.yaml out of the way so a fresh
// planning cycle can produce a new one without clobbering history.
func (c *Controller) archivePlan(itemID string) error {
	planPath := c.layout.PlanPath(itemID)
	if _, err := os.Stat(planPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	stamp := c.clock.Now().UTC().Format("20060102150405")
	suffix := strings.ToLower(uuid.New().String()[:6])
	archivePath := fmt.Sprintf("%s.%s_%s.bak", planPath, stamp, suffix)
	return os.Rename(planPath, archivePath)
}

// hasActiveReviewReceiver reports whether any review-receiver agent in
// events is currently active (running, waiting_approval, or
// waiting_orchestrator).
func hasActiveReviewReceiver(events []orch.Event) bool {
	byAgent := make(map[string][]orch.Event)
	roles := make(map[string]string)
	for _, ev := range events {
		if ev.AgentID == "" {
			continue
		}
		byAgent[ev.AgentID] = append(byAgent[ev.AgentID], ev)
		if ev.Type == orch.EventAgentStarted {
			var p orch.AgentStartedPayload
			_ = ev.DecodePayload(&p)
			roles[ev.AgentID] = p.Role
		}
	}
	for agentID, agentEvents := range byAgent {
		if roles[agentID] != orch.RoleReviewReceiver {
			continue
		}
		if deriver.DeriveAgentStatus(agentEvents).IsActive() {
			return true
		}
	}
	return false
}

// locatePR finds the pull request this review-receive cycle targets:
// the most recent pr_created for repoName if given, else the most
// recent pr_created for any repository.
func locatePR(events []orch.Event, repoName *string) (PRInfo, error) {
	var latest *orch.PRCreatedPayload
	for i := range events {
		ev := events[i]
		if ev.Type != orch.EventPRCreated {
			continue
		}
		var p orch.PRCreatedPayload
		if err := ev.DecodePayload(&p); err != nil {
			continue
		}
		if repoName != nil && *repoName != "" && p.Repository != *repoName {
			continue
		}
		latest = &p
	}
	if latest == nil {
		target := "any repository"
		if repoName != nil {
			target = *repoName
		}
		return PRInfo{}, orcherr.Wrap(orcherr.KindValidation, "reviewreceive.locatePR", "no pull request found for %s", target)
	}
	return PRInfo{Repository: latest.Repository, PRURL: latest.PRURL, PRNumber: latest.PRNumber}, nil
}
