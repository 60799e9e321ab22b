// Package worker coordinates one item's post-planning execution: a
// parallel dev phase per repository, a bounded review loop per
// repository, and delivery of each repository's work as a pull
// request.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/obs"
	"github.com/fleetforge/orchestrator/internal/orch/agentmgr"
	"github.com/fleetforge/orchestrator/internal/orch/audit"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/deriver"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	"github.com/fleetforge/orchestrator/internal/orch/gitpr"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
	"github.com/fleetforge/orchestrator/internal/orch/orcherr"
)

const (
	defaultMaxReviewIterations = 3
	defaultSnapshotInterval    = 20 * time.Second
)

// IDClock supplies event ids and timestamps.
type IDClock interface {
	NewEventID() string
	Now() time.Time
}

// PromptFunc builds an agent's initial prompt from the tasks assigned
// to it for one repository.
type PromptFunc func(repoName string, tasks []orch.Task) string

// activeKey identifies one item's in-progress agent for one repository.
type activeKey struct {
	itemID string
	repo   string
}

// Controller runs the dev/review/finalize phase machinery for a single
// item's planning cycle.
type Controller struct {
	layout layout.Layout
	bus    *bus.Bus
	agents *agentmgr.Manager
	gitpr  *gitpr.Executor
	clock  IDClock

	devPrompt    PromptFunc
	reviewPrompt PromptFunc

	maxReviewIterations int
	snapshotInterval    time.Duration

	active  sync.Map // activeKey -> agentID
	audit   *audit.Recorder
	metrics *obs.Metrics
}

// SetMetrics attaches an OpenTelemetry metrics recorder. Safe to leave
// unset; a Controller with no recorder reports nothing.
func (c *Controller) SetMetrics(m *obs.Metrics) {
	c.metrics = m
}

// SetAuditRecorder attaches an audit trail recorder. Safe to leave
// unset; a Controller with no recorder narrates nothing.
func (c *Controller) SetAuditRecorder(r *audit.Recorder) {
	c.audit = r
}

// SetMaxReviewIterations bounds the review loop's round count. Safe to
// leave unset; a non-positive value is ignored and the default stands.
func (c *Controller) SetMaxReviewIterations(n int) {
	if n > 0 {
		c.maxReviewIterations = n
	}
}

// SetSnapshotInterval sets the period of the background git-snapshot
// loop. Safe to leave unset; a non-positive value is ignored.
func (c *Controller) SetSnapshotInterval(d time.Duration) {
	if d > 0 {
		c.snapshotInterval = d
	}
}

// New constructs a Controller.
func New(l layout.Layout, b *bus.Bus, agents *agentmgr.Manager, gp *gitpr.Executor, clock IDClock, devPrompt, reviewPrompt PromptFunc) *Controller {
	return &Controller{
		layout:              l,
		bus:                 b,
		agents:              agents,
		gitpr:               gp,
		clock:               clock,
		devPrompt:           devPrompt,
		reviewPrompt:        reviewPrompt,
		maxReviewIterations: defaultMaxReviewIterations,
		snapshotInterval:    defaultSnapshotInterval,
	}
}

func (c *Controller) itemLog(itemID string) *eventlog.Log {
	return eventlog.Open(c.layout.ItemEventLogPath(itemID))
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
	log := c.itemLog(itemID)
	if err := log.Append(ev); err != nil {
		return err
	}
	c.bus.Publish(ev)
	return nil
}

// RunDevPhase spawns one dev agent per repository that has at least
// one non-system-role task, runs a best-effort periodic git snapshot
// per repository for the phase's duration, and waits for every spawned
// agent to reach a terminal or waiting_orchestrator state.
func (c *Controller) RunDevPhase(ctx context.Context, itemID string, plan orch.Plan) error {
	byRepo := make(map[string][]orch.Task)
	for _, t := range plan.Tasks {
		if orch.IsSystemRole(t.Role) || t.Role == orch.RoleReview {
			continue
		}
		byRepo[t.Repository] = append(byRepo[t.Repository], t)
	}

	repoNames := sortedKeys(byRepo)

	snapshotCtx, stopSnapshots := context.WithCancel(ctx)
	defer stopSnapshots()
	for _, repoName := range repoNames {
		go c.runSnapshotLoop(snapshotCtx, itemID, repoName)
	}

	agentIDs := make([]string, 0, len(repoNames))
	for _, repoName := range repoNames {
		tasks := byRepo[repoName]
		workdir, err := c.safeWorkdir(itemID, repoName)
		if err != nil {
			return err
		}

		prompt := ""
		if c.devPrompt != nil {
			prompt = c.devPrompt(repoName, tasks)
		}

		agent, err := c.agents.Start(ctx, itemID, tasks[0].Role, &repoName, workdir, prompt)
		if err != nil {
			return fmt.Errorf("worker: start dev agent for %s: %w", repoName, err)
		}
		c.active.Store(activeKey{itemID, repoName}, agent.ID)
		agentIDs = append(agentIDs, agent.ID)
		c.audit.Recordf(ctx, itemID, agent.ID, "dev.started", "dev agent started for %s with %d tasks", repoName, len(tasks))
	}

	for _, agentID := range agentIDs {
		if _, err := c.waitSettled(ctx, itemID, agentID); err != nil {
			return err
		}
	}
	return nil
}

// RunReviewLoop runs up to c.maxReviewIterations rounds of review for one
// repository: spawn a review agent, read its findings, and if it
// reports anything other than a pass, relay the findings to the active
// dev agent for another pass.
func (c *Controller) RunReviewLoop(ctx context.Context, itemID, repoName string, plan orch.Plan) error {
	reviewTasks := filterRole(plan.TasksForRepo(repoName), orch.RoleReview)
	if len(reviewTasks) == 0 {
		return nil
	}

	workdir, err := c.safeWorkdir(itemID, repoName)
	if err != nil {
		return err
	}
	findingsPath := filepath.Join(workdir, "review_findings.json")

	for iteration := 1; iteration <= c.maxReviewIterations; iteration++ {
		c.metrics.ReviewIteration(ctx, repoName, iteration)
		_ = os.Remove(findingsPath)

		prompt := ""
		if c.reviewPrompt != nil {
			prompt = c.reviewPrompt(repoName, reviewTasks)
		}
		reviewAgent, err := c.agents.Start(ctx, itemID, orch.RoleReview, &repoName, workdir, prompt)
		if err != nil {
			return fmt.Errorf("worker: start review agent for %s: %w", repoName, err)
		}
		if _, err := c.waitSettled(ctx, itemID, reviewAgent.ID); err != nil {
			return err
		}

		findings, ok, err := readFindings(findingsPath)
		if err != nil {
			_ = c.agents.Stop(itemID, reviewAgent.ID)
			return fmt.Errorf("worker: read review findings for %s: %w", repoName, err)
		}
		if !ok || findings.OverallAssessment == orch.AssessmentPass {
			_ = c.agents.Stop(itemID, reviewAgent.ID)
			c.audit.Recordf(ctx, itemID, "", "review.passed", "review iteration %d of %s returned pass", iteration, repoName)
			return nil
		}

		critical, major, minor := findings.SeverityCounts()
		if err := c.emit(itemID, orch.EventReviewFindingsExtracted, orch.ReviewFindingsExtractedPayload{
			Repository:        repoName,
			Findings:          findings.Findings,
			CriticalCount:     critical,
			MajorCount:        major,
			MinorCount:        minor,
			OverallAssessment: findings.OverallAssessment,
		}); err != nil {
			_ = c.agents.Stop(itemID, reviewAgent.ID)
			return err
		}
		_ = c.agents.Stop(itemID, reviewAgent.ID)
		c.audit.Recordf(ctx, itemID, "", "review.findings", "review iteration %d of %s returned %s (%d critical, %d major, %d minor)",
			iteration, repoName, findings.OverallAssessment, critical, major, minor)

		if iteration == c.maxReviewIterations {
			break
		}

		devAgentID, ok := c.active.Load(activeKey{itemID, repoName})
		if !ok {
			break
		}
		status, err := c.agentStatus(itemID, devAgentID.(string))
		if err != nil {
			return err
		}
		if status != orch.AgentRunning && status != orch.AgentWaitingOrchestrator {
			break
		}

		if err := c.agents.SendInput(devAgentID.(string), []byte(textualizeFindings(findings)+"\n")); err != nil {
			return fmt.Errorf("worker: relay findings to dev agent: %w", err)
		}
		if err := c.resetToRunning(itemID, devAgentID.(string)); err != nil {
			return err
		}
		if _, err := c.waitSettled(ctx, itemID, devAgentID.(string)); err != nil {
			return err
		}
	}
	return nil
}

// Finalize stops any agent still active for the item, clears the
// active-agent table, and hands each repository to the Git/PR Executor
// in sequence.
func (c *Controller) Finalize(ctx context.Context, itemID string, it orch.Item) error {
	for _, repo := range it.Repositories {
		key := activeKey{itemID, repo.DirectoryName}
		if agentID, ok := c.active.Load(key); ok {
			_ = c.agents.Stop(itemID, agentID.(string))
			c.active.Delete(key)
		}
	}

	for _, repo := range it.Repositories {
		workdir, err := c.safeWorkdir(itemID, repo.DirectoryName)
		if err != nil {
			return err
		}
		branch := repo.WorkBranch
		if branch == "" {
			branch = orch.DefaultWorkBranch(itemID, repo.DirectoryName)
		}
		result, err := c.gitpr.Deliver(ctx, gitpr.Request{
			ItemID:      itemID,
			Repository:  repo.DirectoryName,
			WorkDir:     workdir,
			Branch:      branch,
			ItemName:    it.Name,
			Description: it.Description,
		}, c.itemLog(itemID), c.bus)
		if err != nil {
			return fmt.Errorf("worker: deliver %s: %w", repo.DirectoryName, err)
		}
		if result.Delivered {
			c.audit.Recordf(ctx, itemID, "", "pr.opened", "pull request #%d opened for %s: %s", result.PRNumber, repo.DirectoryName, result.PRURL)
		} else {
			c.audit.Recordf(ctx, itemID, "", "pr.skipped", "nothing to deliver for %s", repo.DirectoryName)
		}
	}
	return nil
}

func (c *Controller) runSnapshotLoop(ctx context.Context, itemID, repoName string) {
	workdir, err := c.safeWorkdir(itemID, repoName)
	if err != nil {
		return
	}
	ticker := time.NewTicker(c.snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.gitpr.Snapshot(ctx, itemID, repoName, workdir, c.itemLog(itemID), c.bus)
		}
	}
}

// safeWorkdir resolves a repository's workspace directory and refuses
// to proceed if it somehow resolves outside the item's workspace root.
func (c *Controller) safeWorkdir(itemID, repoName string) (string, error) {
	dir := c.layout.RepoWorkspace(itemID, repoName)
	ok, err := c.layout.InWorkspace(itemID, dir)
	if err != nil {
		return "", fmt.Errorf("worker: resolve workspace for %s: %w", repoName, err)
	}
	if !ok {
		return "", orcherr.Wrap(orcherr.KindSecurityRefusal, "worker.safeWorkdir", "repository %q resolves outside the item workspace", repoName)
	}
	return dir, nil
}

// waitSettled blocks until agentID's derived status is terminal or
// waiting_orchestrator, following the item's live event stream.
func (c *Controller) waitSettled(ctx context.Context, itemID, agentID string) (orch.AgentStatus, error) {
	events, err := c.readAgentEvents(itemID, agentID)
	if err != nil {
		return "", err
	}
	if status := deriver.DeriveAgentStatus(events); settled(status) {
		return status, nil
	}

	sub, cancel := c.bus.SubscribeItem(itemID)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev := <-sub:
			if ev.AgentID != agentID {
				continue
			}
			events = append(events, ev)
			if status := deriver.DeriveAgentStatus(events); settled(status) {
				return status, nil
			}
		}
	}
}

func (c *Controller) agentStatus(itemID, agentID string) (orch.AgentStatus, error) {
	events, err := c.readAgentEvents(itemID, agentID)
	if err != nil {
		return "", err
	}
	return deriver.DeriveAgentStatus(events), nil
}

func (c *Controller) readAgentEvents(itemID, agentID string) ([]orch.Event, error) {
	log := eventlog.Open(c.layout.AgentEventLogPath(itemID, agentID))
	return log.Read()
}

// resetToRunning records that a dev agent is back to work after a
// review round, even though its underlying process never stopped.
func (c *Controller) resetToRunning(itemID, agentID string) error {
	ev := orch.Event{
		ID:        c.clock.NewEventID(),
		Type:      orch.EventStatusChanged,
		Timestamp: c.clock.Now(),
		ItemID:    itemID,
		AgentID:   agentID,
		Payload:   orch.MustPayload(orch.StatusChangedPayload{To: orch.AgentRunning}),
	}
	agentLog := eventlog.Open(c.layout.AgentEventLogPath(itemID, agentID))
	if err := agentLog.Append(ev); err != nil {
		return err
	}
	if err := c.itemLog(itemID).Append(ev); err != nil {
		return err
	}
	c.bus.Publish(ev)
	return nil
}

func settled(status orch.AgentStatus) bool {
	return status.IsTerminal() || status == orch.AgentWaitingOrchestrator
}

func filterRole(tasks []orch.Task, role string) []orch.Task {
	var out []orch.Task
	for _, t := range tasks {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out
}

func sortedKeys(m map[string][]orch.Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readFindings(path string) (orch.ReviewFindings, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return orch.ReviewFindings{}, false, nil
		}
		return orch.ReviewFindings{}, false, err
	}
	var findings orch.ReviewFindings
	if err := json.Unmarshal(data, &findings); err != nil {
		return orch.ReviewFindings{}, false, orcherr.New(orcherr.KindAgentProtocol, "worker.readFindings", err)
	}
	return findings, true, nil
}

// textualizeFindings renders findings as a grouped, human-readable
// block suitable for relaying directly into a dev agent's PTY input.
func textualizeFindings(f orch.ReviewFindings) string {
	var b strings.Builder
	b.WriteString("Review findings to address:\n")
	for _, sev := range []orch.ReviewFindingSeverity{orch.SeverityCritical, orch.SeverityMajor, orch.SeverityMinor} {
		var matching []orch.ReviewFinding
		for _, finding := range f.Findings {
			if finding.Severity == sev {
				matching = append(matching, finding)
			}
		}
		if len(matching) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", strings.ToUpper(string(sev)))
		for _, finding := range matching {
			loc := finding.File
			if finding.Line != nil {
				loc = fmt.Sprintf("%s:%d", finding.File, *finding.Line)
			}
			fmt.Fprintf(&b, "- %s: %s\n", loc, finding.Description)
			if finding.SuggestedFix != "" {
				fmt.Fprintf(&b, "  suggested fix: %s\n", finding.SuggestedFix)
			}
		}
	}
	return b.String()
}
