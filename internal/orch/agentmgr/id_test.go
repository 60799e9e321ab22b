package agentmgr

import "testing"

func TestGenerateAndParseAgentID_WithRepo(t *testing.T) {
	repo := "backend"
	id := GenerateAgentID("dev", &repo)

	if id[:len(agentIDPrefix)+2] != agentIDPrefix+"--" {
		t.Errorf("got id %q, want it to start with %q", id, agentIDPrefix+"--")
	}

	role, repoName, ok := ParseAgentID(id)
	if !ok {
		t.Fatalf("ParseAgentID(%q) failed", id)
	}
	if role != "dev" {
		t.Errorf("got role %q, want dev", role)
	}
	if repoName == nil || *repoName != "backend" {
		t.Errorf("got repoName %v, want backend", repoName)
	}
}

func TestGenerateAndParseAgentID_SystemRole(t *testing.T) {
	id := GenerateAgentID("planner", nil)

	role, repoName, ok := ParseAgentID(id)
	if !ok {
		t.Fatalf("ParseAgentID(%q) failed", id)
	}
	if role != "planner" {
		t.Errorf("got role %q, want planner", role)
	}
	if repoName != nil {
		t.Errorf("expected nil repoName, got %v", *repoName)
	}
}

func TestParseAgentID_LegacySingleHyphen(t *testing.T) {
	role, repoName, ok := ParseAgentID("agent-dev-backend-a1b2c3")
	if !ok {
		t.Fatal("expected legacy single-hyphen id to parse")
	}
	if role != "dev" {
		t.Errorf("got role %q, want dev", role)
	}
	if repoName == nil || *repoName != "backend" {
		t.Errorf("got repoName %v, want backend", repoName)
	}
}

func TestParseAgentID_Invalid(t *testing.T) {
	// Missing the literal "agent" prefix, so it cannot be a
	// double-hyphen or legacy single-hyphen agent id.
	if _, _, ok := ParseAgentID("not-an-id-format"); ok {
		t.Fatal("expected malformed id to fail parsing")
	}
}
