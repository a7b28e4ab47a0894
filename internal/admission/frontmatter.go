package admission

import (
	"bytes"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

// Frontmatter represents the YAML frontmatter of a task file
type Frontmatter struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	Priority   string `yaml:"priority"`
	Created    string `yaml:"created"`
	Cwd        string `yaml:"cwd"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// ParseFrontmatter extracts YAML frontmatter from markdown content.
// Returns the frontmatter, remaining content, and any error.
func ParseFrontmatter(content []byte) (*Frontmatter, []byte, bool, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, false, nil
	}

	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return &Frontmatter{}, content, false, nil
	}

	fmData := rest[:endIdx]
	remaining := rest[endIdx+4:] // skip \n---

	var fm Frontmatter
	if err := yaml.Unmarshal(fmData, &fm); err != nil {
		return nil, nil, true, err
	}

	return &fm, bytes.TrimLeft(remaining, "\n"), true, nil
}

// ToKind converts a frontmatter type string to a TaskKind
func ToKind(s string) (domain.TaskKind, bool) {
	switch s {
	case "code_review":
		return domain.KindCodeReview, true
	case "summarize":
		return domain.KindSummarize, true
	case "fix", "bug_fix":
		return domain.KindFix, true
	case "analyze":
		return domain.KindAnalyze, true
	case "documentation":
		return domain.KindDocs, true
	}
	return "", false
}

// ToPriority converts a string to a Priority
func ToPriority(s string) domain.Priority {
	switch s {
	case "high":
		return domain.PriorityHigh
	case "low":
		return domain.PriorityLow
	default:
		return domain.PriorityNormal
	}
}
