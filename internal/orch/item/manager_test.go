package item

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	git "github.com/fleetforge/orchestrator/internal/orch/git"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
)

type fakeClock struct{ n int }

func (c *fakeClock) NewEventID() string {
	c.n++
	return "ev-" + string(rune('a'+c.n))
}

func (c *fakeClock) Now() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func runSetup(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("%v: %s: %v", args, out, err)
	}
}

func newRemoteFixture(t *testing.T) string {
	t.Helper()
	remote := t.TempDir()
	runSetup(t, remote, "git", "init", "-b", "main")
	runSetup(t, remote, "git", "config", "user.email", "test@test.com")
	runSetup(t, remote, "git", "config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(remote, "hello.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	runSetup(t, remote, "git", "add", ".")
	runSetup(t, remote, "git", "commit", "-m", "initial")
	return remote
}

func TestCreateItem_RequiresAtLeastOneRepository(t *testing.T) {
	l := layout.New(t.TempDir())
	m := New(l, bus.New(), nil, git.NewPool(2), &fakeClock{}, nil)

	_, err := m.CreateItem(context.Background(), CreateItemRequest{Name: "Add widget"})
	if err == nil {
		t.Fatal("expected an error when no repositories are declared")
	}
}

func TestCreateItem_PersistsAndEmits(t *testing.T) {
	l := layout.New(t.TempDir())
	b := bus.New()
	m := New(l, b, nil, git.NewPool(2), &fakeClock{}, nil)

	it, err := m.CreateItem(context.Background(), CreateItemRequest{
		Name: "Add widget",
		Repositories: []orch.RepositoryConfig{
			{DirectoryName: "backend", Role: "back", Type: orch.RepoRemote, URL: "https://example.com/backend.git"},
		},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if it.ID == "" {
		t.Fatal("expected a generated item id")
	}
	if it.Repositories[0].WorkBranch == "" {
		t.Fatal("expected a defaulted work branch for the remote repository")
	}

	loaded, err := m.LoadItem(it.ID)
	if err != nil {
		t.Fatalf("LoadItem: %v", err)
	}
	if loaded.Name != "Add widget" {
		t.Fatalf("got name %q, want %q", loaded.Name, "Add widget")
	}

	events, err := m.itemLog(it.ID).Read()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(events) != 1 || events[0].Type != orch.EventItemCreated {
		t.Fatalf("expected a single item_created event, got %+v", events)
	}
}

func TestSetupWorkspace_ClonesRemoteRepository(t *testing.T) {
	remote := newRemoteFixture(t)

	l := layout.New(t.TempDir())
	m := New(l, bus.New(), nil, git.NewPool(2), &fakeClock{}, nil)

	it, err := m.CreateItem(context.Background(), CreateItemRequest{
		Name: "Add widget",
		Repositories: []orch.RepositoryConfig{
			{DirectoryName: "backend", Role: "back", Type: orch.RepoRemote, URL: remote},
		},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if err := m.SetupWorkspace(context.Background(), it.ID); err != nil {
		t.Fatalf("SetupWorkspace: %v", err)
	}

	target := l.RepoWorkspace(it.ID, "backend")
	if _, err := os.Stat(filepath.Join(target, "hello.txt")); err != nil {
		t.Fatalf("expected cloned file, got: %v", err)
	}

	events, err := m.itemLog(it.ID).Read()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var sawCloneCompleted bool
	for _, ev := range events {
		if ev.Type == orch.EventCloneCompleted {
			var p orch.CloneCompletedPayload
			if err := ev.DecodePayload(&p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !p.Success {
				t.Fatalf("expected clone_completed success=true, got error %q", p.Error)
			}
			sawCloneCompleted = true
		}
	}
	if !sawCloneCompleted {
		t.Fatal("expected a clone_completed event")
	}
}

func TestSetupWorkspace_SymlinksLocalRepository(t *testing.T) {
	localRepo := t.TempDir()
	if err := os.WriteFile(filepath.Join(localRepo, "marker.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := layout.New(t.TempDir())
	m := New(l, bus.New(), nil, git.NewPool(2), &fakeClock{}, nil)

	it, err := m.CreateItem(context.Background(), CreateItemRequest{
		Name: "Add docs",
		Repositories: []orch.RepositoryConfig{
			{DirectoryName: "docs", Role: "docs", Type: orch.RepoLocal, Path: localRepo, LinkMode: orch.LinkSymlink},
		},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if err := m.SetupWorkspace(context.Background(), it.ID); err != nil {
		t.Fatalf("SetupWorkspace: %v", err)
	}

	target := l.RepoWorkspace(it.ID, "docs")
	info, err := os.Lstat(target)
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("expected a symlink for symlink link mode")
	}
	if _, err := os.Stat(filepath.Join(target, "marker.txt")); err != nil {
		t.Fatalf("expected marker file reachable through the symlink: %v", err)
	}
}

func TestSetupWorkspace_RetryRemovesExistingEntry(t *testing.T) {
	localRepo := t.TempDir()
	l := layout.New(t.TempDir())
	m := New(l, bus.New(), nil, git.NewPool(2), &fakeClock{}, nil)

	it, err := m.CreateItem(context.Background(), CreateItemRequest{
		Name: "Add docs",
		Repositories: []orch.RepositoryConfig{
			{DirectoryName: "docs", Role: "docs", Type: orch.RepoLocal, Path: localRepo, LinkMode: orch.LinkSymlink},
		},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	target := l.RepoWorkspace(it.ID, "docs")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.SetupWorkspace(context.Background(), it.ID); err != nil {
		t.Fatalf("SetupWorkspace: %v", err)
	}

	info, err := os.Lstat(target)
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("expected the stale plain file to have been replaced with a symlink")
	}
}
