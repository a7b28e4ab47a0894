package admission

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

var (
	titleRegex    = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	targetsRegex  = regexp.MustCompile(`\*\*Target Files:\*\*\s*\n((?:- .+\n?)+)`)
	promptRegex   = regexp.MustCompile(`(?s)\*\*Prompt:\*\*\s*\n(.+?)(?:\n\*\*[A-Za-z]|\n##|\z)`)
	criteriaRegex = regexp.MustCompile(`\*\*Success Criteria:\*\*\s*\n((?:- \[.\] .+\n?)+)`)
	contextRegex  = regexp.MustCompile(`(?s)\*\*Context:\*\*\s*\n(.+?)(?:\n\*\*[A-Za-z]|\n##|\z)`)
	checkboxRegex = regexp.MustCompile(`^- \[.\] `)
)

// Reject is a fatal admission error. Rejected requests are never queued
// or retried; a corrected file arriving later is a new raw notification.
type Reject struct {
	Path   string
	Reason string
}

func (r *Reject) Error() string {
	return fmt.Sprintf("rejecting %s: %s", filepath.Base(r.Path), r.Reason)
}

// ErrDuplicate marks a request whose identity is already queued or has
// terminal history. Admitting it again is an idempotent no-op.
type ErrDuplicate struct {
	TaskID string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("task %s already known", e.TaskID)
}

// History answers whether a task identity already exists
type History interface {
	InQueue(taskID string) (bool, error)
	HasTerminal(taskID string) bool
}

// Admitter converts ready task files into immutable Tasks
type Admitter struct {
	maxBytes    int64
	allowedRoot string
	maxTimeout  time.Duration
	history     History
}

// New creates an Admitter. maxBytes bounds the request size; allowedRoot,
// when set, restricts frontmatter cwd overrides to that subtree;
// maxTimeout, when set, bounds frontmatter timeout_sec overrides so an
// attempt can never outlive its queue lease.
func New(maxBytes int64, allowedRoot string, maxTimeout time.Duration, history History) *Admitter {
	return &Admitter{
		maxBytes:    maxBytes,
		allowedRoot: allowedRoot,
		maxTimeout:  maxTimeout,
		history:     history,
	}
}

// Admit loads, validates, and parses a ready task file. On success the
// returned Task is immutable except for its status. Malformed or oversized
// content returns a *Reject; a known identity returns *ErrDuplicate.
func (a *Admitter) Admit(path string) (*domain.Task, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Reject{Path: path, Reason: fmt.Sprintf("cannot stat: %v", err)}
	}
	if a.maxBytes > 0 && info.Size() > a.maxBytes {
		return nil, &Reject{Path: path, Reason: fmt.Sprintf("request size %d exceeds limit %d", info.Size(), a.maxBytes)}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &Reject{Path: path, Reason: fmt.Sprintf("cannot read: %v", err)}
	}

	task, err := a.parse(path, content)
	if err != nil {
		return nil, err
	}

	if a.history != nil {
		queued, err := a.history.InQueue(task.ID)
		if err != nil {
			return nil, fmt.Errorf("checking queue for %s: %w", task.ID, err)
		}
		if queued || a.history.HasTerminal(task.ID) {
			return nil, &ErrDuplicate{TaskID: task.ID}
		}
	}

	return task, nil
}

func (a *Admitter) parse(path string, content []byte) (*domain.Task, error) {
	fm, body, hasFM, err := ParseFrontmatter(content)
	if err != nil {
		return nil, &Reject{Path: path, Reason: fmt.Sprintf("invalid frontmatter: %v", err)}
	}
	if !hasFM {
		return nil, &Reject{Path: path, Reason: "missing YAML frontmatter"}
	}

	kind, ok := ToKind(fm.Type)
	if !ok {
		return nil, &Reject{Path: path, Reason: fmt.Sprintf("unknown task type %q", fm.Type)}
	}

	id := fm.ID
	if id == "" {
		// Fall back to the filename stem, e.g. fix-login.task.md -> fix-login
		id = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".md"), ".task")
	}
	if id, err = domain.ParseTaskID(id); err != nil {
		return nil, &Reject{Path: path, Reason: err.Error()}
	}

	workDir, err := a.resolveCwd(fm.Cwd)
	if err != nil {
		return nil, &Reject{Path: path, Reason: err.Error()}
	}

	timeout := time.Duration(fm.TimeoutSec) * time.Second
	if a.maxTimeout > 0 && timeout >= a.maxTimeout {
		return nil, &Reject{Path: path, Reason: fmt.Sprintf("timeout_sec %d must stay under %d", fm.TimeoutSec, int(a.maxTimeout/time.Second))}
	}

	sections := parseSections(string(body))
	prompt := sections.prompt
	if prompt == "" {
		return nil, &Reject{Path: path, Reason: "missing **Prompt:** section"}
	}

	createdAt := time.Now()
	if fm.Created != "" {
		if ts, err := time.Parse(time.RFC3339, fm.Created); err == nil {
			createdAt = ts
		}
	}

	title := sections.title
	if title == "" {
		title = "Task " + id
	}

	return &domain.Task{
		ID:              id,
		Kind:            kind,
		Priority:        ToPriority(fm.Priority),
		Title:           title,
		Prompt:          prompt,
		TargetFiles:     sections.targetFiles,
		SuccessCriteria: sections.criteria,
		Context:         sections.context,
		WorkDir:         workDir,
		Timeout:         timeout,
		SourcePath:      path,
		Status:          domain.StatusReceived,
		CreatedAt:       createdAt,
	}, nil
}

// resolveCwd validates a frontmatter cwd override. The directory must
// exist, and when an allowed root is configured it must sit inside it.
func (a *Admitter) resolveCwd(cwd string) (string, error) {
	if cwd == "" {
		return "", nil
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("invalid cwd %q: %v", cwd, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("cwd %q is not a directory", cwd)
	}
	if a.allowedRoot != "" {
		rel, err := filepath.Rel(a.allowedRoot, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("cwd %q outside allowed root", cwd)
		}
	}
	return abs, nil
}

type sections struct {
	title       string
	targetFiles []string
	prompt      string
	criteria    []string
	context     string
}

func parseSections(body string) sections {
	var s sections

	if m := titleRegex.FindStringSubmatch(body); m != nil {
		s.title = strings.TrimSpace(m[1])
	}
	if m := targetsRegex.FindStringSubmatch(body); m != nil {
		for _, line := range strings.Split(m[1], "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "-") {
				s.targetFiles = append(s.targetFiles, strings.TrimSpace(strings.TrimPrefix(line, "-")))
			}
		}
	}
	if m := promptRegex.FindStringSubmatch(body); m != nil {
		s.prompt = strings.TrimSpace(m[1])
	}
	if m := criteriaRegex.FindStringSubmatch(body); m != nil {
		for _, line := range strings.Split(m[1], "\n") {
			line = strings.TrimSpace(line)
			if checkboxRegex.MatchString(line) {
				s.criteria = append(s.criteria, checkboxRegex.ReplaceAllString(line, ""))
			}
		}
	}
	if m := contextRegex.FindStringSubmatch(body); m != nil {
		s.context = strings.TrimSpace(m[1])
	}

	return s
}
