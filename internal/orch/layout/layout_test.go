package layout

import (
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	l := New("/data")

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"ItemDir", l.ItemDir("ITEM-1"), filepath.Join("/data", "items", "ITEM-1")},
		{"ItemConfigPath", l.ItemConfigPath("ITEM-1"), filepath.Join("/data", "items", "ITEM-1", "item.yaml")},
		{"ItemEventLogPath", l.ItemEventLogPath("ITEM-1"), filepath.Join("/data", "items", "ITEM-1", "events.jsonl")},
		{"WorkspaceRoot", l.WorkspaceRoot("ITEM-1"), filepath.Join("/data", "items", "ITEM-1", "workspace")},
		{"RepoWorkspace", l.RepoWorkspace("ITEM-1", "backend"), filepath.Join("/data", "items", "ITEM-1", "workspace", "backend")},
		{"PlanPath", l.PlanPath("ITEM-1"), filepath.Join("/data", "items", "ITEM-1", "workspace", "plan.yaml")},
		{"AgentDir", l.AgentDir("ITEM-1", "agent-dev--backend--ab12cd"), filepath.Join("/data", "items", "ITEM-1", "agents", "agent-dev--backend--ab12cd")},
		{"RepositoriesCatalogPath", l.RepositoriesCatalogPath(), filepath.Join("/data", "repositories.yaml")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.got != c.want {
				t.Errorf("got %q, want %q", c.got, c.want)
			}
		})
	}
}

func TestInWorkspace(t *testing.T) {
	l := New(t.TempDir())

	ok, err := l.InWorkspace("ITEM-1", l.RepoWorkspace("ITEM-1", "backend"))
	if err != nil || !ok {
		t.Fatalf("expected repo workspace to be inside workspace root, ok=%v err=%v", ok, err)
	}

	ok, err = l.InWorkspace("ITEM-1", filepath.Join(l.WorkspaceRoot("ITEM-1"), "..", ".."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected escaping path to be rejected")
	}

	ok, err = l.InWorkspace("ITEM-1", l.WorkspaceRoot("ITEM-1"))
	if err != nil || !ok {
		t.Fatalf("expected workspace root itself to be inside workspace root, ok=%v err=%v", ok, err)
	}
}
