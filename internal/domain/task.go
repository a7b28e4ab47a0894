package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var taskIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ParseTaskID validates a task identifier from frontmatter or a filename stem
func ParseTaskID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty task ID")
	}
	if !taskIDRegex.MatchString(s) {
		return "", fmt.Errorf("invalid task ID %q (letters, digits, '.', '_', '-')", s)
	}
	return s, nil
}

// NewTaskID generates a fresh task identifier
func NewTaskID() string {
	return "task_" + uuid.NewString()[:8]
}

// Task represents one unit of admitted work parsed from a task markdown file.
// Everything except Status is immutable after admission.
type Task struct {
	ID              string
	Kind            TaskKind
	Priority        Priority
	Title           string
	Prompt          string
	TargetFiles     []string
	SuccessCriteria []string
	Context         string
	WorkDir         string        // optional cwd override from frontmatter
	Timeout         time.Duration // optional per-task timeout override
	SourcePath      string        // originating task file, archived on completion
	Status          TaskStatus
	CreatedAt       time.Time
}

// Scope returns the directory the agent is allowed to mutate for this task
func (t *Task) Scope(defaultDir string) string {
	if t.WorkDir != "" {
		return t.WorkDir
	}
	return defaultDir
}
