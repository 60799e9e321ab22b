package orch

import "fmt"

// ValidatePlan checks a decoded Plan against the owning item, per
// spec's plan artifact contract: version and itemId must be present
// and match, task ids unique, title/agent present, role must be a
// declared item role or "review", repository must be one of the
// item's repositories, and dependency targets must resolve within the
// same plan.
func ValidatePlan(p Plan, item Item) error {
	if p.Version == "" {
		return fmt.Errorf("plan: missing version")
	}
	if p.ItemID != item.ID {
		return fmt.Errorf("plan: itemId %q does not match item %q", p.ItemID, item.ID)
	}

	roles := item.Roles()
	roles[RoleReview] = true

	repoNames := make(map[string]bool, len(item.Repositories))
	for _, r := range item.Repositories {
		repoNames[r.DirectoryName] = true
	}

	seen := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("plan: task with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("plan: duplicate task id %q", t.ID)
		}
		seen[t.ID] = true

		if t.Title == "" {
			return fmt.Errorf("plan: task %q missing title", t.ID)
		}
		if t.Role == "" {
			return fmt.Errorf("plan: task %q missing agent role", t.ID)
		}
		if !roles[t.Role] {
			return fmt.Errorf("plan: task %q role %q not in item role set", t.ID, t.Role)
		}
		if !repoNames[t.Repository] {
			return fmt.Errorf("plan: task %q repository %q not in item repositories", t.ID, t.Repository)
		}
	}

	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("plan: task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}

	return nil
}
