package gitpr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// PullRequest is the subset of a hosted pull request's fields this
// system persists and surfaces.
type PullRequest struct {
	Number int
	URL    string
}

// Host creates pull requests against a repository's hosting service.
// GHCLIHost is the only production implementation; tests substitute a
// fake.
type Host interface {
	CreatePR(ctx context.Context, dir string, opts CreatePROptions) (PullRequest, error)
	DefaultBranch(ctx context.Context, dir string) (string, error)
}

// CreatePROptions are the fields needed to open one draft pull request.
type CreatePROptions struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// GHCLIHost shells out to the GitHub CLI (`gh`), following the
// teacher's runDeliverCmd convention: run in the repo directory,
// capture stdout/stderr, and fold stderr into the returned error.
type GHCLIHost struct{}

func (GHCLIHost) CreatePR(ctx context.Context, dir string, opts CreatePROptions) (PullRequest, error) {
	args := []string{"pr", "create",
		"--title", opts.Title,
		"--body", opts.Body,
		"--head", opts.Head,
		"--draft",
		"--json", "number,url",
	}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}
	out, err := runCmd(ctx, dir, "gh", args...)
	if err != nil {
		return PullRequest{}, fmt.Errorf("gh pr create: %w", err)
	}

	var parsed struct {
		Number int    `json:"number"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return PullRequest{}, fmt.Errorf("gh pr create: parse response: %w", err)
	}
	return PullRequest{Number: parsed.Number, URL: parsed.URL}, nil
}

func (GHCLIHost) DefaultBranch(ctx context.Context, dir string) (string, error) {
	out, err := runCmd(ctx, dir, "gh", "repo", "view", "--json", "defaultBranchRef", "-q", ".defaultBranchRef.name")
	if err != nil {
		return "", fmt.Errorf("gh repo view: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// runGit runs a git command in dir.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	return runCmd(ctx, dir, "git", args...)
}

// runCmd runs an arbitrary command in dir, following the teacher's
// stdout/stderr capture convention.
func runCmd(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
