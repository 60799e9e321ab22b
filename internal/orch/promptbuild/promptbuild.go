// Package promptbuild renders the initial prompt text handed to each
// role an agent can be started as: the planner that turns a design doc
// into a task plan, a per-repository dev agent working its assigned
// tasks, a reviewer checking a repository's diff, and a review-receiver
// picking a re-opened cycle back up from pull-request feedback.
package promptbuild

import (
	"fmt"
	"strings"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/reviewreceive"
)

// Planner builds the initial prompt for an item's auto-started planner
// agent, grounded in its design doc and declared repositories.
func Planner(it orch.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are planning work for %q.\n\n", it.Name)
	if it.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", it.Description)
	}
	b.WriteString("Repositories:\n")
	for _, r := range it.Repositories {
		fmt.Fprintf(&b, "- %s (role: %s)\n", r.DirectoryName, r.Role)
	}
	if it.DesignDoc != "" {
		fmt.Fprintf(&b, "\nDesign doc: %s\n", it.DesignDoc)
	}
	b.WriteString("\nRead the design doc, break it into " +
		"tasks scoped to one repository each, and write the plan to plan.yaml " +
		"in your working directory.\n")
	return b.String()
}

// Dev builds the initial prompt for a repository's dev agent, given
// the tasks the plan assigned to that repository.
func Dev(repoName string, tasks []orch.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are implementing the following tasks in %q:\n\n", repoName)
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", t.ID, t.Title, t.Description)
		if len(t.Files) > 0 {
			fmt.Fprintf(&b, "  files: %s\n", strings.Join(t.Files, ", "))
		}
	}
	b.WriteString("\nWork task by task, commit as you go, and leave the tree ready " +
		"for review when done.\n")
	return b.String()
}

// Review builds the initial prompt for a repository's reviewer agent.
func Review(repoName string, tasks []orch.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the changes made in %q against the following tasks:\n\n", repoName)
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", t.ID, t.Title, t.Description)
	}
	b.WriteString("\nCheck correctness, test coverage, and adherence to the task " +
		"descriptions above. If you find issues, describe them precisely enough " +
		"for a dev agent to fix without guessing. If there is nothing to fix, " +
		"say so plainly.\n")
	return b.String()
}

// ReviewReceive builds the initial prompt for a review-receiver agent
// resuming a previously delivered pull request.
func ReviewReceive(it orch.Item, pr reviewreceive.PRInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pull request #%d (%s) for %q was sent back for changes.\n\n",
		pr.PRNumber, pr.PRURL, pr.Repository)
	b.WriteString("Read the review feedback on the pull request, apply the requested " +
		"changes in the working copy, and push updates to the same branch.\n")
	return b.String()
}
