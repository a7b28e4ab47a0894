package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// kindKeywords maps description cues to task kinds when --type is omitted
var kindKeywords = []struct {
	keyword string
	kind    domain.TaskKind
}{
	{"review", domain.KindCodeReview},
	{"summar", domain.KindSummarize},
	{"document", domain.KindDocs},
	{"docstring", domain.KindDocs},
	{"readme", domain.KindDocs},
	{"fix", domain.KindFix},
	{"bug", domain.KindFix},
	{"broken", domain.KindFix},
	{"crash", domain.KindFix},
}

func inferKind(description string) domain.TaskKind {
	lower := strings.ToLower(description)
	for _, kw := range kindKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.kind
		}
	}
	return domain.KindAnalyze
}

// slugify produces the file-name part of a generated task id
func slugify(description string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(description) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
		if b.Len() >= 32 {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "task"
	}
	return slug
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	description := strings.TrimSpace(args[0])
	if description == "" {
		return fmt.Errorf("description must not be empty")
	}

	kind := inferKind(description)
	if createType != "" {
		kind = domain.TaskKind(createType)
		switch kind {
		case domain.KindCodeReview, domain.KindSummarize, domain.KindFix, domain.KindAnalyze, domain.KindDocs:
		default:
			return fmt.Errorf("unknown task type %q", createType)
		}
	}

	switch createPriority {
	case "high", "normal", "low":
	default:
		return fmt.Errorf("unknown priority %q", createPriority)
	}

	id := fmt.Sprintf("%s-%s", slugify(description), uuid.NewString()[:8])

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", id)
	fmt.Fprintf(&b, "type: %s\n", kind)
	fmt.Fprintf(&b, "priority: %s\n", createPriority)
	fmt.Fprintf(&b, "created: %s\n", time.Now().UTC().Format(time.RFC3339))
	if createCwd != "" {
		fmt.Fprintf(&b, "cwd: %s\n", createCwd)
	}
	if createTimeout > 0 {
		fmt.Fprintf(&b, "timeout_sec: %d\n", createTimeout)
	}
	b.WriteString("---\n\n")

	title := description
	if len(title) > 72 {
		title = title[:72]
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if len(createTargets) > 0 {
		b.WriteString("**Target Files:**\n")
		for _, target := range createTargets {
			fmt.Fprintf(&b, "- %s\n", target)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "**Prompt:**\n%s\n", description)

	if len(createCriteria) > 0 {
		b.WriteString("\n**Success Criteria:**\n")
		for _, c := range createCriteria {
			fmt.Fprintf(&b, "- [ ] %s\n", c)
		}
	}
	if createContext != "" {
		fmt.Fprintf(&b, "\n**Context:**\n%s\n", createContext)
	}

	if err := os.MkdirAll(cfg.General.TasksDir, 0755); err != nil {
		return err
	}

	// Write to a dotfile first so the watcher only ever sees the
	// complete file appear via the rename.
	dest := filepath.Join(cfg.General.TasksDir, id+".task.md")
	tmp := filepath.Join(cfg.General.TasksDir, "."+id+".tmp")
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}

	fmt.Printf("created %s (%s, %s priority)\n", dest, kind, createPriority)
	return nil
}
