package promptbuild

import (
	"strings"
	"testing"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/reviewreceive"
)

func TestPlanner(t *testing.T) {
	it := orch.Item{
		Name:        "checkout revamp",
		Description: "Rework the checkout flow across services.",
		Repositories: []orch.RepositoryConfig{
			{DirectoryName: "api", Role: "backend"},
			{DirectoryName: "web", Role: "frontend"},
		},
	}
	got := Planner(it)
	for _, want := range []string{"checkout revamp", "Rework the checkout flow", "api (role: backend)", "web (role: frontend)"} {
		if !strings.Contains(got, want) {
			t.Errorf("Planner() missing %q in:\n%s", want, got)
		}
	}
}

func TestPlanner_NoDescription(t *testing.T) {
	it := orch.Item{Name: "bare item"}
	got := Planner(it)
	if !strings.Contains(got, "bare item") {
		t.Errorf("Planner() missing item name in:\n%s", got)
	}
}

func TestDev(t *testing.T) {
	tasks := []orch.Task{
		{ID: "t1", Title: "Add endpoint", Description: "Expose POST /checkout", Files: []string{"handler.go"}},
		{ID: "t2", Title: "Wire validation", Description: "Validate cart totals"},
	}
	got := Dev("api", tasks)
	for _, want := range []string{"api", "[t1] Add endpoint", "Expose POST /checkout", "handler.go", "[t2] Wire validation"} {
		if !strings.Contains(got, want) {
			t.Errorf("Dev() missing %q in:\n%s", want, got)
		}
	}
}

func TestReview(t *testing.T) {
	tasks := []orch.Task{{ID: "t1", Title: "Add endpoint", Description: "Expose POST /checkout"}}
	got := Review("api", tasks)
	if !strings.Contains(got, "[t1] Add endpoint") || !strings.Contains(got, "api") {
		t.Errorf("Review() missing expected task reference in:\n%s", got)
	}
}

func TestReviewReceive(t *testing.T) {
	it := orch.Item{Name: "checkout revamp"}
	pr := reviewreceive.PRInfo{Repository: "api", PRURL: "https://example.com/pr/7", PRNumber: 7}
	got := ReviewReceive(it, pr)
	for _, want := range []string{"#7", "https://example.com/pr/7", "api"} {
		if !strings.Contains(got, want) {
			t.Errorf("ReviewReceive() missing %q in:\n%s", want, got)
		}
	}
}
