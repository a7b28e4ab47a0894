package bridge

import (
	"strings"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// BuildPrompt renders the task into the prompt handed to the agent
func BuildPrompt(task *domain.Task) string {
	var b strings.Builder

	b.WriteString("Task Type: " + strings.ToUpper(string(task.Kind)) + "\n")
	b.WriteString("Task: " + task.Title + "\n\n")
	b.WriteString("Description:\n" + task.Prompt + "\n")

	if len(task.TargetFiles) > 0 {
		b.WriteString("\nTarget Files:\n")
		for _, f := range task.TargetFiles {
			b.WriteString("- " + f + "\n")
		}
	}

	if len(task.SuccessCriteria) > 0 {
		b.WriteString("\nSuccess Criteria:\n")
		for _, c := range task.SuccessCriteria {
			b.WriteString("- " + c + "\n")
		}
	}

	if task.Context != "" {
		b.WriteString("\nContext:\n" + task.Context + "\n")
	}

	b.WriteString("\nPlease:\n")
	b.WriteString("1. Analyze the current state of the specified files\n")
	if task.Kind.ReadOnly() {
		b.WriteString("2. Produce the requested report without modifying any files\n")
	} else {
		b.WriteString("2. Implement the requested changes\n")
	}
	b.WriteString("3. Provide a clear summary of what was accomplished\n")
	b.WriteString("4. Note any issues or limitations encountered\n")

	return b.String()
}

// AllowedTools returns the agent tool allowlist for a task kind.
// Read-only kinds never get edit or shell access.
func AllowedTools(kind domain.TaskKind) []string {
	base := []string{"Read", "LS", "Grep", "Glob"}
	if kind.ReadOnly() {
		return base
	}
	tools := append(base, "Edit", "MultiEdit", "Write")
	if kind == domain.KindFix || kind == domain.KindAnalyze {
		tools = append(tools, "Bash")
	}
	return tools
}
