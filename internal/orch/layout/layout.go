// Package layout centralizes every on-disk path the orchestrator
// touches under a single configurable data root. No other package
// should concatenate path segments by hand; callers resolve paths
// exclusively through a Layout.
package layout

import (
	"path/filepath"
	"strings"
)

// Layout derives deterministic filesystem paths from a data root.
type Layout struct {
	DataRoot string
}

// New creates a Layout rooted at dataRoot.
func New(dataRoot string) Layout {
	return Layout{DataRoot: dataRoot}
}

// ItemsRoot returns $DATA/items.
func (l Layout) ItemsRoot() string {
	return filepath.Join(l.DataRoot, "items")
}

// ItemDir returns $DATA/items/{itemId}.
func (l Layout) ItemDir(itemID string) string {
	return filepath.Join(l.ItemsRoot(), itemID)
}

// ItemConfigPath returns <itemDir>/item.yaml.
func (l Layout) ItemConfigPath(itemID string) string {
	return filepath.Join(l.ItemDir(itemID), "item.yaml")
}

// ItemEventLogPath returns <itemDir>/events.jsonl.
func (l Layout) ItemEventLogPath(itemID string) string {
	return filepath.Join(l.ItemDir(itemID), "events.jsonl")
}

// WorkspaceRoot returns <itemDir>/workspace.
func (l Layout) WorkspaceRoot(itemID string) string {
	return filepath.Join(l.ItemDir(itemID), "workspace")
}

// RepoWorkspace returns <workspaceRoot>/{repoName}.
func (l Layout) RepoWorkspace(itemID, repoName string) string {
	return filepath.Join(l.WorkspaceRoot(itemID), repoName)
}

// PlanPath returns <workspaceRoot>/plan.yaml.
func (l Layout) PlanPath(itemID string) string {
	return filepath.Join(l.WorkspaceRoot(itemID), "plan.yaml")
}

// AgentsRoot returns <itemDir>/agents.
func (l Layout) AgentsRoot(itemID string) string {
	return filepath.Join(l.ItemDir(itemID), "agents")
}

// AgentDir returns <itemDir>/agents/{agentId}.
func (l Layout) AgentDir(itemID, agentID string) string {
	return filepath.Join(l.AgentsRoot(itemID), agentID)
}

// AgentEventLogPath returns <agentDir>/events.jsonl.
func (l Layout) AgentEventLogPath(itemID, agentID string) string {
	return filepath.Join(l.AgentDir(itemID, agentID), "events.jsonl")
}

// RepositoriesCatalogPath returns $DATA/repositories.yaml.
func (l Layout) RepositoriesCatalogPath() string {
	return filepath.Join(l.DataRoot, "repositories.yaml")
}

// InWorkspace reports whether candidate resolves to a path inside the
// item's workspace root, guarding against agent working directories
// that escape via symlinks or `..` segments.
func (l Layout) InWorkspace(itemID, candidate string) (bool, error) {
	root, err := filepath.Abs(l.WorkspaceRoot(itemID))
	if err != nil {
		return false, err
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false, err
	}
	if rel == "." {
		return true, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}
	return true, nil
}
