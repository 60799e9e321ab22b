package main

import (
	"testing"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
)

func TestParseRepoSpec(t *testing.T) {
	got, err := parseRepoSpec("dir=api,role=backend,type=remote,url=git@github.com:org/api.git,baseBranch=main")
	if err != nil {
		t.Fatalf("parseRepoSpec: %v", err)
	}
	want := orch.RepositoryConfig{
		DirectoryName: "api",
		Role:          "backend",
		Type:          orch.RepoRemote,
		URL:           "git@github.com:org/api.git",
		BaseBranch:    "main",
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParseRepoSpec_DefaultsToRemote(t *testing.T) {
	got, err := parseRepoSpec("dir=api,role=backend")
	if err != nil {
		t.Fatalf("parseRepoSpec: %v", err)
	}
	if got.Type != orch.RepoRemote {
		t.Errorf("got type %q, want %q", got.Type, orch.RepoRemote)
	}
}

func TestParseRepoSpec_Local(t *testing.T) {
	got, err := parseRepoSpec("dir=shared,role=lib,type=local,path=/srv/shared")
	if err != nil {
		t.Fatalf("parseRepoSpec: %v", err)
	}
	if got.Type != orch.RepoLocal || got.Path != "/srv/shared" {
		t.Errorf("got %+v, want local repo at /srv/shared", got)
	}
}

func TestParseRepoSpec_MissingDir(t *testing.T) {
	if _, err := parseRepoSpec("role=backend"); err == nil {
		t.Error("expected an error for a spec missing dir=")
	}
}

func TestParseRepoSpec_UnknownKey(t *testing.T) {
	if _, err := parseRepoSpec("dir=api,bogus=1"); err == nil {
		t.Error("expected an error for an unknown repo spec key")
	}
}

func TestParseRepoFlags_PropagatesError(t *testing.T) {
	if _, err := parseRepoFlags([]string{"dir=api", "role=backend"}); err == nil {
		t.Error("expected the second malformed spec to produce an error")
	}
}
