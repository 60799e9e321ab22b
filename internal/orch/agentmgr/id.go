package agentmgr

import (
	"strings"

	"github.com/google/uuid"
)

// agentIDPrefix is the literal first token of every agent id; the
// owning item is carried on Agent.ItemID, never embedded in the id
// string itself.
const agentIDPrefix = "agent"

// GenerateAgentID constructs an agent identifier of the form
// "agent--<role>[--<repoName>]--<rand6>", double-hyphen being the
// structural separator so single-hyphenated roles and repository
// names never collide with it.
func GenerateAgentID(role string, repoName *string) string {
	parts := []string{agentIDPrefix, role}
	if repoName != nil && *repoName != "" {
		parts = append(parts, *repoName)
	}
	parts = append(parts, randSuffix())
	return strings.Join(parts, "--")
}

func randSuffix() string {
	return strings.ToLower(uuid.New().String()[:6])
}

// ParseAgentID recovers the role (and, when present, the repository
// name) from an agent id produced by GenerateAgentID, as well as the
// legacy single-hyphen form ("agent-<role>[-<repoName>]-<rand6>")
// that predates the double-hyphen scheme.
func ParseAgentID(id string) (role string, repoName *string, ok bool) {
	if role, repoName, ok := parseWithSeparator(id, "--"); ok {
		return role, repoName, true
	}
	return parseWithSeparator(id, "-")
}

func parseWithSeparator(id, sep string) (role string, repoName *string, ok bool) {
	parts := strings.Split(id, sep)
	if len(parts) < 3 || parts[0] != agentIDPrefix {
		return "", nil, false
	}
	// parts[0] = "agent", parts[len-1] = rand suffix, and the parts in
	// between must be exactly role or role plus repoName; any other count
	// (e.g. a role or repoName that itself contains sep) is rejected.
	middle := parts[1 : len(parts)-1]
	switch len(middle) {
	case 1:
		return middle[0], nil, true
	case 2:
		repo := middle[1]
		return middle[0], &repo, true
	default:
		return "", nil, false
	}
}
