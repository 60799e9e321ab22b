package approval

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
)

// UIKind identifies the shape of an approval prompt as rendered in
// the terminal tail.
type UIKind string

const (
	UIMenu    UIKind = "menu"
	UIYesNo   UIKind = "yn"
	UIUnknown UIKind = "unknown"
)

// Flags annotate a detected prompt with risk signals used by the
// classifier callers to decide whether to surface the prompt to a
// human even when the command itself would auto-approve.
type Flags struct {
	// IsOutsideWorkspace is set when the command references an absolute
	// path outside workspaceRoot, or a system/secret directory (/etc,
	// ~/.ssh, ~/.aws, .env, ...) regardless of where it resolves.
	IsOutsideWorkspace bool
	IsDestructive      bool
	InvolvesSecrets    bool
	InvolvesNetwork    bool
}

// PromptDetection is the result of scanning a window of raw terminal
// output for an approval prompt.
type PromptDetection struct {
	Detected bool
	UI       UIKind
	Command  string
	Flags    Flags
}

var (
	menuPromptRe  = regexp.MustCompile(`(?im)^\s*(❯|>)?\s*\d+\.\s+(yes|allow|approve)\b`)
	yesNoPromptRe = regexp.MustCompile(`(?i)\(y(es)?/n(o)?\)\s*:?\s*$`)

	allowBashRe    = regexp.MustCompile(`(?im)^\s*Allow\s+Bash:\s*(.+)$`)
	allowCommandRe = regexp.MustCompile(`(?im)^\s*Allow\s+command:\s*(.+)$`)
	shellPromptRe  = regexp.MustCompile(`(?m)^\s*\$\s+(.+)$`)

	secretsRe = regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|token|credential)\b`)
	networkRe = regexp.MustCompile(`(?i)\b(curl|wget|ssh|scp|rsync|https?://)\b`)
)

// DetectPrompt scans tail, the most recent window of a PTY's raw
// output, for a pending approval prompt. workspaceRoot is used to
// annotate IsOutsideWorkspace when the extracted command references an
// absolute path outside it.
func DetectPrompt(tail []byte, workspaceRoot string) PromptDetection {
	text := string(tail)

	var ui UIKind
	switch {
	case menuPromptRe.Match(tail):
		ui = UIMenu
	case yesNoPromptRe.MatchString(strings.TrimRight(text, "\r\n \t")):
		ui = UIYesNo
	default:
		return PromptDetection{}
	}

	cmd := extractCommand(text)

	flags := Flags{
		InvolvesSecrets: secretsRe.MatchString(text),
		InvolvesNetwork: networkRe.MatchString(text),
	}
	if cmd != "" {
		flags.IsDestructive = IsDestructiveCommand(cmd)
		flags.IsOutsideWorkspace = commandReferencesOutsidePath(cmd, workspaceRoot) || commandReferencesSensitivePath(cmd)
	}

	return PromptDetection{
		Detected: true,
		UI:       ui,
		Command:  cmd,
		Flags:    flags,
	}
}

// extractCommand pulls the command a prompt is asking about out of
// the tail text, preferring explicit "Allow Bash:"/"Allow command:"
// markers, then a trailing shell-prompt line, then falling back to
// the last non-blank line as the smallest enclosing context.
func extractCommand(text string) string {
	if m := allowBashRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		return strings.TrimSpace(m[len(m)-1][1])
	}
	if m := allowCommandRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		return strings.TrimSpace(m[len(m)-1][1])
	}
	if m := shellPromptRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		return strings.TrimSpace(m[len(m)-1][1])
	}
	lines := bytes.Split([]byte(text), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(string(lines[i]))
		if line != "" {
			return line
		}
	}
	return ""
}

var absPathRe = regexp.MustCompile(`/[^\s"']+`)

// commandReferencesOutsidePath reports whether cmd mentions an
// absolute filesystem path that resolves outside workspaceRoot. URL
// paths (preceded by "://") are ignored.
func commandReferencesOutsidePath(cmd, workspaceRoot string) bool {
	if workspaceRoot == "" {
		return false
	}
	for _, loc := range absPathRe.FindAllStringIndex(cmd, -1) {
		start, end := loc[0], loc[1]
		if start >= 3 && cmd[start-3:start] == "://" {
			continue
		}
		rel, err := filepath.Rel(workspaceRoot, cmd[start:end])
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// sensitiveDirPatterns match path segments that hold credentials or
// system state a command should never quietly touch, even from inside
// the workspace (a repo-local .ssh symlink, a checked-in .env file).
var sensitiveDirPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|[/\s])\.ssh(/|$)`),
	regexp.MustCompile(`(?i)(^|[/\s])\.aws(/|$)`),
	regexp.MustCompile(`(?i)(^|[/\s])\.gnupg(/|$)`),
	regexp.MustCompile(`(?i)(^|[/\s])\.kube(/|$)`),
	regexp.MustCompile(`(?i)(^|[/\s])\.env(\.\w+)?(\s|$)`),
	regexp.MustCompile(`(?i)(^|\s)/etc(/|\s|$)`),
	regexp.MustCompile(`(?i)(^|\s)/proc(/|\s|$)`),
	regexp.MustCompile(`(?i)(^|\s)/sys(/|\s|$)`),
	regexp.MustCompile(`(?i)(^|\s)/root(/|\s|$)`),
}

// commandReferencesSensitivePath reports whether cmd mentions a
// system or secret directory, independent of whether that path
// happens to resolve inside the workspace.
func commandReferencesSensitivePath(cmd string) bool {
	for _, re := range sensitiveDirPatterns {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}
