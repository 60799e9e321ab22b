// Package item owns an item's on-disk lifecycle: allocating its
// identity, persisting its configuration, staging each repository into
// its workspace (by clone or by link), and tearing it down.
package item

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/agentmgr"
	"github.com/fleetforge/orchestrator/internal/orch/audit"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	git "github.com/fleetforge/orchestrator/internal/orch/git"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
	"github.com/fleetforge/orchestrator/internal/orch/orcherr"
)

// IDClock supplies event ids and timestamps.
type IDClock interface {
	NewEventID() string
	Now() time.Time
}

// PlannerPromptFunc builds the initial prompt for the auto-started
// planner agent, given the item it is planning for.
type PlannerPromptFunc func(it orch.Item) string

// Manager owns item creation, workspace staging, and deletion.
type Manager struct {
	layout  layout.Layout
	bus     *bus.Bus
	agents  *agentmgr.Manager
	gitPool *git.Pool
	clock   IDClock
	audit   *audit.Recorder

	plannerPrompt PlannerPromptFunc
}

// SetAuditRecorder attaches an audit trail recorder. A Manager with no
// recorder set narrates nothing; this is always safe to leave unset.
func (m *Manager) SetAuditRecorder(r *audit.Recorder) {
	m.audit = r
}

// New constructs a Manager.
func New(l layout.Layout, b *bus.Bus, agents *agentmgr.Manager, gitPool *git.Pool, clock IDClock, plannerPrompt PlannerPromptFunc) *Manager {
	return &Manager{
		layout:        l,
		bus:           b,
		agents:        agents,
		gitPool:       gitPool,
		clock:         clock,
		plannerPrompt: plannerPrompt,
	}
}

func (m *Manager) itemLog(itemID string) *eventlog.Log {
	return eventlog.Open(m.layout.ItemEventLogPath(itemID))
}

func (m *Manager) emit(itemID string, kind orch.EventKind, payload any) error {
	ev := orch.Event{
		ID:        m.clock.NewEventID(),
		Type:      kind,
		Timestamp: m.clock.Now(),
		ItemID:    itemID,
	}
	if payload != nil {
		ev.Payload = orch.MustPayload(payload)
	}
	log := m.itemLog(itemID)
	if err := log.Append(ev); err != nil {
		return err
	}
	m.bus.Publish(ev)
	return nil
}

// CreateItemRequest carries the fields a caller supplies; ID and
// CreatedAt are assigned by CreateItem.
type CreateItemRequest struct {
	Name         string
	Description  string
	DesignDoc    string
	Repositories []orch.RepositoryConfig
}

// CreateItem allocates a fresh item id, persists its configuration,
// and emits item_created. The item must declare at least one
// repository.
func (m *Manager) CreateItem(ctx context.Context, req CreateItemRequest) (orch.Item, error) {
	if len(req.Repositories) == 0 {
		return orch.Item{}, orcherr.Wrap(orcherr.KindValidation, "item.CreateItem", "item must declare at least one repository")
	}

	it := orch.Item{
		ID:           "item-" + uuid.New().String()[:8],
		Name:         req.Name,
		Description:  req.Description,
		DesignDoc:    req.DesignDoc,
		Repositories: req.Repositories,
		CreatedAt:    m.clock.Now(),
	}
	// The deterministic work-branch default depends on the item id,
	// which does not exist until now; fill in any still-blank ones.
	for i, r := range it.Repositories {
		if r.Type == orch.RepoRemote && r.WorkBranch == "" {
			it.Repositories[i].WorkBranch = orch.DefaultWorkBranch(it.ID, r.DirectoryName)
		}
	}

	if err := m.saveItem(it); err != nil {
		return orch.Item{}, fmt.Errorf("item.CreateItem: %w", err)
	}
	if err := m.emit(it.ID, orch.EventItemCreated, nil); err != nil {
		return orch.Item{}, fmt.Errorf("item.CreateItem: %w", err)
	}
	m.audit.Recordf(ctx, it.ID, "", "item.created", "item %q created with %d repositories", it.Name, len(it.Repositories))
	return it, nil
}

func (m *Manager) saveItem(it orch.Item) error {
	path := m.layout.ItemConfigPath(it.ID)
	if err := os.MkdirAll(m.layout.ItemDir(it.ID), 0o755); err != nil {
		return fmt.Errorf("item: mkdir: %w", err)
	}
	data, err := yaml.Marshal(it)
	if err != nil {
		return fmt.Errorf("item: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ListItems returns every item with a persisted configuration,
// skipping entries whose item.yaml is missing or unreadable (a
// directory mid-creation, or left behind by a prior partial Delete).
func (m *Manager) ListItems() ([]orch.Item, error) {
	entries, err := os.ReadDir(m.layout.ItemsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("item.ListItems: %w", err)
	}

	items := make([]orch.Item, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		it, err := m.LoadItem(entry.Name())
		if err != nil {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// UpdateItemRequest carries the mutable subset of an item's fields;
// a nil pointer leaves the corresponding field unchanged.
type UpdateItemRequest struct {
	Name        *string
	Description *string
	DesignDoc   *string
}

// UpdateItem applies req to the item's persisted configuration. The
// item's id and repository list are immutable and never touched here.
func (m *Manager) UpdateItem(itemID string, req UpdateItemRequest) (orch.Item, error) {
	it, err := m.LoadItem(itemID)
	if err != nil {
		return orch.Item{}, err
	}
	if req.Name != nil {
		it.Name = *req.Name
	}
	if req.Description != nil {
		it.Description = *req.Description
	}
	if req.DesignDoc != nil {
		it.DesignDoc = *req.DesignDoc
	}
	if err := m.saveItem(it); err != nil {
		return orch.Item{}, fmt.Errorf("item.UpdateItem: %w", err)
	}
	return it, nil
}

// LoadItem reads an item's persisted configuration.
func (m *Manager) LoadItem(itemID string) (orch.Item, error) {
	data, err := os.ReadFile(m.layout.ItemConfigPath(itemID))
	if err != nil {
		return orch.Item{}, orcherr.New(orcherr.KindValidation, "item.LoadItem", err)
	}
	var it orch.Item
	if err := yaml.Unmarshal(data, &it); err != nil {
		return orch.Item{}, fmt.Errorf("item.LoadItem: %w", err)
	}
	return it, nil
}

// SetupWorkspace stages every repository declared on the item, in
// parallel, then auto-starts the planner. Staging failures are
// recorded as error events but do not tear down the item.
func (m *Manager) SetupWorkspace(ctx context.Context, itemID string) error {
	it, err := m.LoadItem(itemID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.layout.WorkspaceRoot(itemID), 0o755); err != nil {
		return fmt.Errorf("item.SetupWorkspace: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, repo := range it.Repositories {
		repo := repo
		g.Go(func() error {
			return m.stageRepo(gctx, itemID, repo)
		})
	}
	if err := g.Wait(); err != nil {
		_ = m.emit(itemID, orch.EventError, orch.ErrorPayload{Message: err.Error(), Scope: "workspace_setup"})
		return err
	}

	if err := m.startPlanner(ctx, it); err != nil {
		_ = m.emit(itemID, orch.EventError, orch.ErrorPayload{Message: err.Error(), Scope: "planner_start"})
	}
	return nil
}

func (m *Manager) stageRepo(ctx context.Context, itemID string, repo orch.RepositoryConfig) error {
	target := m.layout.RepoWorkspace(itemID, repo.DirectoryName)
	if err := removeExisting(target); err != nil {
		return fmt.Errorf("item: clear existing entry for %s: %w", repo.DirectoryName, err)
	}

	switch repo.Type {
	case orch.RepoRemote:
		return m.stageRemote(ctx, itemID, repo, target)
	case orch.RepoLocal:
		return m.stageLocal(itemID, repo, target)
	default:
		return orcherr.Wrap(orcherr.KindValidation, "item.stageRepo", "repository %q has unknown type %q", repo.DirectoryName, repo.Type)
	}
}

func (m *Manager) stageRemote(ctx context.Context, itemID string, repo orch.RepositoryConfig, target string) error {
	if err := m.emit(itemID, orch.EventCloneStarted, orch.CloneStartedPayload{Repository: repo.DirectoryName, URL: repo.URL}); err != nil {
		return err
	}

	cloneErr := m.gitPool.Run(ctx, func() error {
		if _, err := runGit(ctx, m.layout.WorkspaceRoot(itemID), "clone", repo.URL, target); err != nil {
			return err
		}
		if repo.WorkBranch != "" {
			if _, err := runGit(ctx, target, "checkout", "-b", repo.WorkBranch); err != nil {
				return err
			}
		}
		return nil
	})

	payload := orch.CloneCompletedPayload{Repository: repo.DirectoryName, Success: cloneErr == nil}
	if cloneErr != nil {
		payload.Error = cloneErr.Error()
	}
	if err := m.emit(itemID, orch.EventCloneCompleted, payload); err != nil {
		return err
	}
	return cloneErr
}

func (m *Manager) stageLocal(itemID string, repo orch.RepositoryConfig, target string) error {
	if err := m.emit(itemID, orch.EventWorkspaceSetupStarted, orch.WorkspaceSetupStartedPayload{
		Repository: repo.DirectoryName,
		Path:       repo.Path,
		LinkMode:   repo.LinkMode,
	}); err != nil {
		return err
	}

	var stageErr error
	switch repo.LinkMode {
	case orch.LinkCopy:
		stageErr = copyTree(repo.Path, target)
	default:
		stageErr = os.Symlink(repo.Path, target)
	}

	payload := orch.WorkspaceSetupCompletedPayload{Repository: repo.DirectoryName, Success: stageErr == nil}
	if stageErr != nil {
		payload.Error = stageErr.Error()
	}
	if err := m.emit(itemID, orch.EventWorkspaceSetupCompleted, payload); err != nil {
		return err
	}
	return stageErr
}

func (m *Manager) startPlanner(ctx context.Context, it orch.Item) error {
	if m.plannerPrompt == nil || m.agents == nil {
		return nil
	}
	workdir := m.layout.WorkspaceRoot(it.ID)
	_, err := m.agents.Start(ctx, it.ID, orch.RolePlanner, nil, workdir, m.plannerPrompt(it))
	return err
}

// RetrySetup re-runs SetupWorkspace, which already clears any prior
// staged entry for each repository before restaging it.
func (m *Manager) RetrySetup(ctx context.Context, itemID string) error {
	return m.SetupWorkspace(ctx, itemID)
}

// Delete stops every live agent for the item, then removes its entire
// on-disk directory.
func (m *Manager) Delete(ctx context.Context, itemID string) error {
	log := m.itemLog(itemID)
	events, err := log.Read()
	if err != nil {
		return fmt.Errorf("item.Delete: %w", err)
	}

	live := make(map[string]bool)
	for _, ev := range events {
		if ev.AgentID == "" {
			continue
		}
		switch ev.Type {
		case orch.EventAgentStarted:
			live[ev.AgentID] = true
		case orch.EventAgentExited:
			delete(live, ev.AgentID)
		case orch.EventStatusChanged:
			var p orch.StatusChangedPayload
			_ = ev.DecodePayload(&p)
			if p.To.IsTerminal() {
				delete(live, ev.AgentID)
			}
		}
	}

	if m.agents != nil {
		for agentID := range live {
			_ = m.agents.Stop(itemID, agentID)
		}
	}

	return os.RemoveAll(m.layout.ItemDir(itemID))
}
