package admission

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

const sampleTask = `---
id: fix-login
type: fix
priority: high
created: 2025-06-01T10:00:00Z
timeout_sec: 120
---

# Fix login timeout

**Target Files:**
- auth/session.go
- auth/session_test.go

**Prompt:**
Sessions expire after 5 seconds instead of 5 minutes.
Find and fix the unit mismatch.

**Success Criteria:**
- [ ] Session TTL is 5 minutes
- [x] Existing tests still pass

**Context:**
Reported by on-call after the last deploy.
`

type fakeHistory struct {
	queued   map[string]bool
	terminal map[string]bool
}

func (f *fakeHistory) InQueue(id string) (bool, error) { return f.queued[id], nil }
func (f *fakeHistory) HasTerminal(id string) bool      { return f.terminal[id] }

func writeTask(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAdmit_FullTask(t *testing.T) {
	dir := t.TempDir()
	path := writeTask(t, dir, "fix-login.task.md", sampleTask)

	a := New(0, "", 0, nil)
	task, err := a.Admit(path)
	if err != nil {
		t.Fatal(err)
	}

	if task.ID != "fix-login" {
		t.Errorf("ID = %q, want fix-login", task.ID)
	}
	if task.Kind != domain.KindFix {
		t.Errorf("Kind = %q, want fix", task.Kind)
	}
	if task.Priority != domain.PriorityHigh {
		t.Errorf("Priority = %q, want high", task.Priority)
	}
	if task.Title != "Fix login timeout" {
		t.Errorf("Title = %q", task.Title)
	}
	if len(task.TargetFiles) != 2 || task.TargetFiles[0] != "auth/session.go" {
		t.Errorf("TargetFiles = %v", task.TargetFiles)
	}
	if !strings.Contains(task.Prompt, "unit mismatch") {
		t.Errorf("Prompt = %q", task.Prompt)
	}
	if len(task.SuccessCriteria) != 2 || task.SuccessCriteria[0] != "Session TTL is 5 minutes" {
		t.Errorf("SuccessCriteria = %v", task.SuccessCriteria)
	}
	if !strings.Contains(task.Context, "on-call") {
		t.Errorf("Context = %q", task.Context)
	}
	if task.Timeout != 120*time.Second {
		t.Errorf("Timeout = %v, want 2m", task.Timeout)
	}
	if task.Status != domain.StatusReceived {
		t.Errorf("Status = %q, want received", task.Status)
	}
	if !task.CreatedAt.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", task.CreatedAt)
	}
}

func TestAdmit_IDFromFilename(t *testing.T) {
	dir := t.TempDir()
	content := "---\ntype: analyze\n---\n\n# T\n\n**Prompt:**\nLook at the logs.\n"
	path := writeTask(t, dir, "nightly-check.task.md", content)

	task, err := New(0, "", 0, nil).Admit(path)
	if err != nil {
		t.Fatal(err)
	}
	if task.ID != "nightly-check" {
		t.Errorf("ID = %q, want nightly-check", task.ID)
	}
}

func TestAdmit_Rejections(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		reason  string
	}{
		{"no frontmatter", "# Just markdown\n\n**Prompt:**\ndo it\n", "frontmatter"},
		{"bad yaml", "---\ntype: [unclosed\n---\n\n**Prompt:**\nx\n", "frontmatter"},
		{"unknown type", "---\ntype: deploy\n---\n\n**Prompt:**\nx\n", "task type"},
		{"missing prompt", "---\ntype: fix\n---\n\n# Title only\n", "Prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTask(t, dir, strings.ReplaceAll(tt.name, " ", "-")+".task.md", tt.content)
			_, err := New(0, "", 0, nil).Admit(path)
			var rej *Reject
			if !errors.As(err, &rej) {
				t.Fatalf("err = %v, want *Reject", err)
			}
			if !strings.Contains(rej.Reason, tt.reason) {
				t.Errorf("Reason = %q, want substring %q", rej.Reason, tt.reason)
			}
		})
	}
}

func TestAdmit_Oversized(t *testing.T) {
	dir := t.TempDir()
	path := writeTask(t, dir, "big.task.md", sampleTask)

	_, err := New(10, "", 0, nil).Admit(path)
	var rej *Reject
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want *Reject", err)
	}
	if !strings.Contains(rej.Reason, "exceeds limit") {
		t.Errorf("Reason = %q", rej.Reason)
	}
}

func TestAdmit_TimeoutCap(t *testing.T) {
	dir := t.TempDir()
	path := writeTask(t, dir, "fix-login.task.md", sampleTask)

	// sampleTask asks for timeout_sec 120
	_, err := New(0, "", time.Minute, nil).Admit(path)
	var rej *Reject
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want *Reject", err)
	}
	if !strings.Contains(rej.Reason, "timeout_sec") {
		t.Errorf("Reason = %q", rej.Reason)
	}

	task, err := New(0, "", 5*time.Minute, nil).Admit(path)
	if err != nil {
		t.Fatal(err)
	}
	if task.Timeout != 2*time.Minute {
		t.Errorf("Timeout = %v, want 2m", task.Timeout)
	}
}

func TestAdmit_Duplicate(t *testing.T) {
	dir := t.TempDir()
	path := writeTask(t, dir, "fix-login.task.md", sampleTask)

	hist := &fakeHistory{queued: map[string]bool{"fix-login": true}, terminal: map[string]bool{}}
	_, err := New(0, "", 0, hist).Admit(path)
	var dup *ErrDuplicate
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want *ErrDuplicate", err)
	}
	if dup.TaskID != "fix-login" {
		t.Errorf("TaskID = %q", dup.TaskID)
	}

	// Terminal history also dedupes
	hist = &fakeHistory{queued: map[string]bool{}, terminal: map[string]bool{"fix-login": true}}
	_, err = New(0, "", 0, hist).Admit(path)
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want *ErrDuplicate for terminal history", err)
	}
}

func TestAdmit_CwdOverride(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "project")
	if err := os.Mkdir(project, 0755); err != nil {
		t.Fatal(err)
	}

	content := "---\ntype: fix\ncwd: " + project + "\n---\n\n**Prompt:**\nx\n"
	path := writeTask(t, dir, "cwd-ok.task.md", content)

	task, err := New(0, dir, 0, nil).Admit(path)
	if err != nil {
		t.Fatal(err)
	}
	if task.WorkDir != project {
		t.Errorf("WorkDir = %q, want %q", task.WorkDir, project)
	}

	// Outside the allowed root
	outside := t.TempDir()
	content = "---\ntype: fix\ncwd: " + outside + "\n---\n\n**Prompt:**\nx\n"
	path = writeTask(t, dir, "cwd-outside.task.md", content)
	_, err = New(0, dir, 0, nil).Admit(path)
	var rej *Reject
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want *Reject for cwd outside root", err)
	}
}

func TestParseFrontmatter_Passthrough(t *testing.T) {
	fm, body, has, err := ParseFrontmatter([]byte("plain content"))
	if err != nil || has {
		t.Fatalf("has = %v, err = %v", has, err)
	}
	if fm.Type != "" || string(body) != "plain content" {
		t.Errorf("fm = %+v, body = %q", fm, body)
	}
}
