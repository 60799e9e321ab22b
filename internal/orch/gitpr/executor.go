// Package gitpr delivers a repository's committed work as a pull
// request: it refuses to push directly to a protected branch, snapshots
// the working tree, skips repositories with nothing to deliver, and
// otherwise pushes the work branch and opens a draft PR.
package gitpr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/obs"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	git "github.com/fleetforge/orchestrator/internal/orch/git"
	"github.com/fleetforge/orchestrator/internal/orch/orcherr"
	"github.com/fleetforge/orchestrator/internal/resilience"
)

const (
	hostBreakerMaxFailures = 5
	hostBreakerTimeout     = 30 * time.Second
)

// protectedBranches may never be pushed to directly; delivery always
// goes through a work branch and a pull request instead.
var protectedBranches = map[string]bool{
	"main":   true,
	"master": true,
}

// IDClock supplies event ids and timestamps, shared with agentmgr's
// clock interface of the same shape.
type IDClock interface {
	NewEventID() string
	Now() time.Time
}

// Executor delivers one repository's work branch as a draft pull
// request, following the teacher's DeliverService: every git/gh
// invocation runs through a shared concurrency pool.
type Executor struct {
	host    Host
	pool    *git.Pool
	clock   IDClock
	metrics *obs.Metrics
	breaker *resilience.Breaker
}

// New constructs an Executor. host is typically GHCLIHost{}; tests
// substitute a fake. A circuit breaker guards every host call so a
// string of `gh` failures (rate limiting, an outage) trips open and
// fails fast instead of retrying a doomed shell-out for every
// repository in the item.
func New(host Host, pool *git.Pool, clock IDClock) *Executor {
	return &Executor{
		host:    host,
		pool:    pool,
		clock:   clock,
		breaker: resilience.NewBreaker(hostBreakerMaxFailures, hostBreakerTimeout),
	}
}

// SetMetrics attaches an OpenTelemetry metrics recorder. Safe to leave
// unset; an Executor with no recorder reports nothing.
func (e *Executor) SetMetrics(m *obs.Metrics) {
	e.metrics = m
}

// Request describes one repository's delivery.
type Request struct {
	ItemID        string
	Repository    string // directory name
	WorkDir       string // absolute path to the repo's working copy
	Branch        string
	ItemName      string
	Description   string
	DesignDocPath string // empty if the item has none
}

// Result carries the outcome of one Deliver call for callers that want
// it beyond the event log (e.g. the worker controller's summary).
type Result struct {
	Delivered bool
	PRNumber  int
	PRURL     string
}

// Deliver snapshots the repository, refuses to proceed against a
// protected branch, and either records that there is nothing to
// deliver or pushes the branch and opens a draft PR. Every event is
// appended to itemLog and published on b.
func (e *Executor) Deliver(ctx context.Context, req Request, itemLog *eventlog.Log, b *bus.Bus) (Result, error) {
	if protectedBranches[req.Branch] {
		return Result{}, orcherr.Wrap(orcherr.KindSecurityRefusal, "gitpr.Deliver",
			"refusing to deliver directly against protected branch %q", req.Branch)
	}

	removeTransientFiles(req.WorkDir)

	var result Result
	err := e.pool.Run(ctx, func() error {
		defaultBranch := e.discoverDefaultBranch(ctx, req.WorkDir)
		if defaultBranch != "" && req.Branch == defaultBranch {
			return orcherr.Wrap(orcherr.KindSecurityRefusal, "gitpr.Deliver",
				"refusing to deliver directly against repository's default branch %q", req.Branch)
		}
		base := defaultBranch
		if base == "" {
			base = "main"
		}

		snapshot, err := e.snapshot(ctx, req.WorkDir, req.Repository, base)
		if err != nil {
			e.emit(itemLog, b, req.ItemID, orch.EventGitSnapshotError, orch.GitSnapshotErrorPayload{
				Repository: req.Repository,
				Error:      err.Error(),
			})
			return fmt.Errorf("gitpr: snapshot %s: %w", req.Repository, err)
		}
		e.emit(itemLog, b, req.ItemID, orch.EventGitSnapshot, orch.GitSnapshotPayload{
			Repository: req.Repository,
			Branch:     snapshot.branch,
			Ahead:      snapshot.ahead,
			Dirty:      snapshot.dirty,
		})

		if snapshot.ahead == 0 && !snapshot.dirty {
			e.emit(itemLog, b, req.ItemID, orch.EventRepoNoChanges, orch.RepoNoChangesPayload{
				Repository: req.Repository,
			})
			return nil
		}

		if snapshot.dirty {
			if _, err := runGit(ctx, req.WorkDir, "add", "-A"); err != nil {
				return fmt.Errorf("gitpr: stage changes: %w", err)
			}
			if _, err := runGit(ctx, req.WorkDir, "commit", "-m", commitMessage(req)); err != nil {
				return fmt.Errorf("gitpr: commit changes: %w", err)
			}
		}

		spanCtx, span := obs.StartGitPushSpan(ctx, req.ItemID, req.Repository, req.Branch)
		defer span.End()

		if _, err := runGit(spanCtx, req.WorkDir, "push", "-u", "origin", req.Branch); err != nil {
			return fmt.Errorf("gitpr: push %s: %w", req.Branch, err)
		}

		var pr PullRequest
		if err := e.breaker.Execute(func() error {
			var hostErr error
			pr, hostErr = e.host.CreatePR(spanCtx, req.WorkDir, CreatePROptions{
				Title: prTitle(req),
				Body:  prBody(req),
				Head:  req.Branch,
				Base:  base,
			})
			return hostErr
		}); err != nil {
			return fmt.Errorf("gitpr: create PR: %w", err)
		}
		e.metrics.PRCreated(spanCtx, req.Repository)

		head, err := runGit(ctx, req.WorkDir, "rev-parse", "HEAD")
		if err != nil {
			head = ""
		}

		e.emit(itemLog, b, req.ItemID, orch.EventPRCreated, orch.PRCreatedPayload{
			Repository: req.Repository,
			PRURL:      pr.URL,
			PRNumber:   pr.Number,
			Branch:     req.Branch,
			CommitHash: strings.TrimSpace(head),
		})
		result = Result{Delivered: true, PRNumber: pr.Number, PRURL: pr.URL}
		return nil
	})
	return result, err
}

// Snapshot records a point-in-time git_snapshot (or, on failure,
// git_snapshot_error) for one repository without attempting delivery.
// Used by the worker controller's periodic background snapshot job.
func (e *Executor) Snapshot(ctx context.Context, itemID, repository, workDir string, itemLog *eventlog.Log, b *bus.Bus) error {
	return e.pool.Run(ctx, func() error {
		base := e.discoverDefaultBranch(ctx, workDir)
		if base == "" {
			base = "main"
		}
		s, err := e.snapshot(ctx, workDir, repository, base)
		if err != nil {
			e.emit(itemLog, b, itemID, orch.EventGitSnapshotError, orch.GitSnapshotErrorPayload{
				Repository: repository,
				Error:      err.Error(),
			})
			return err
		}
		e.emit(itemLog, b, itemID, orch.EventGitSnapshot, orch.GitSnapshotPayload{
			Repository: repository,
			Branch:     s.branch,
			Ahead:      s.ahead,
			Dirty:      s.dirty,
		})
		return nil
	})
}

// discoverDefaultBranch resolves the repository's actual default
// branch: the local origin/HEAD ref if one has been fetched, falling
// back to the host API (behind the circuit breaker) when it hasn't.
// Returns "" if neither source resolves one, in which case the
// delivery guard falls back to the static main/master list only.
func (e *Executor) discoverDefaultBranch(ctx context.Context, dir string) string {
	if ref, err := runGit(ctx, dir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		ref = strings.TrimSpace(ref)
		if branch := strings.TrimPrefix(ref, "refs/remotes/origin/"); branch != ref {
			return branch
		}
	}

	var branch string
	if err := e.breaker.Execute(func() error {
		var hostErr error
		branch, hostErr = e.host.DefaultBranch(ctx, dir)
		return hostErr
	}); err != nil {
		return ""
	}
	return strings.TrimSpace(branch)
}

type gitSnapshot struct {
	branch string
	ahead  int
	dirty  bool
}

// snapshot reports the work branch's current state. ahead is computed
// against origin/<base>, the repository's discovered default branch,
// rather than the work branch's own upstream (@{u}): a freshly
// created work branch has no upstream until its first successful
// push, which would make @{u}..HEAD fail on every repository's first
// delivery attempt and silently report 0 commits ahead even when the
// dev agent already committed real work.
func (e *Executor) snapshot(ctx context.Context, dir, repository, base string) (gitSnapshot, error) {
	branch, err := runGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return gitSnapshot{}, err
	}
	branch = strings.TrimSpace(branch)

	status, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return gitSnapshot{}, err
	}
	dirty := strings.TrimSpace(status) != ""

	ahead := 0
	if out, err := runGit(ctx, dir, "rev-list", "--count", fmt.Sprintf("origin/%s..HEAD", base)); err == nil {
		if n, convErr := strconv.Atoi(strings.TrimSpace(out)); convErr == nil {
			ahead = n
		}
	}

	return gitSnapshot{branch: branch, ahead: ahead, dirty: dirty}, nil
}

func (e *Executor) emit(itemLog *eventlog.Log, b *bus.Bus, itemID string, kind orch.EventKind, payload any) {
	ev := orch.Event{
		ID:        e.clock.NewEventID(),
		Type:      kind,
		Timestamp: e.clock.Now(),
		ItemID:    itemID,
	}
	if payload != nil {
		ev.Payload = orch.MustPayload(payload)
	}
	if err := itemLog.Append(ev); err != nil {
		return
	}
	b.Publish(ev)
}

// removeTransientFiles deletes working files that exist only to pass
// review findings between agents and must never be committed.
func removeTransientFiles(workDir string) {
	_ = os.Remove(filepath.Join(workDir, "review_findings.json"))
}

func commitMessage(req Request) string {
	return fmt.Sprintf("%s: %s", req.Repository, req.ItemName)
}

func prTitle(req Request) string {
	return fmt.Sprintf("[%s] %s", req.Repository, req.ItemName)
}

func prBody(req Request) string {
	var b strings.Builder
	b.WriteString(req.Description)
	b.WriteString("\n\n")
	if req.DesignDocPath != "" {
		fmt.Fprintf(&b, "## Design doc\n\n%s\n\n", req.DesignDocPath)
	}
	b.WriteString("---\nOpened automatically by the fleet orchestrator.\n")
	return b.String()
}
