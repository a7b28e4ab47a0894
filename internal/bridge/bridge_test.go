package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

func TestBoundedBufferSmallStream(t *testing.T) {
	buf := newBoundedBuffer(64, 32)
	if _, err := buf.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}

	ex := buf.Excerpt()
	if ex.Head != "hello world" {
		t.Errorf("head = %q, want %q", ex.Head, "hello world")
	}
	if ex.Truncated {
		t.Error("small stream should not be truncated")
	}
	if ex.Tail != "" {
		t.Errorf("tail = %q, want empty for untruncated stream", ex.Tail)
	}
}

func TestBoundedBufferTruncation(t *testing.T) {
	buf := newBoundedBuffer(4, 4)
	for _, chunk := range []string{"abc", "def", "ghi", "jkl"} {
		buf.Write([]byte(chunk))
	}

	ex := buf.Excerpt()
	if ex.Head != "abcd" {
		t.Errorf("head = %q, want %q", ex.Head, "abcd")
	}
	if ex.Tail != "ijkl" {
		t.Errorf("tail = %q, want %q", ex.Tail, "ijkl")
	}
	if !ex.Truncated {
		t.Error("oversized stream should be marked truncated")
	}
}

func TestBoundedBufferTailNotFull(t *testing.T) {
	buf := newBoundedBuffer(2, 16)
	buf.Write([]byte("abcdef"))

	ex := buf.Excerpt()
	if ex.Head != "ab" {
		t.Errorf("head = %q, want %q", ex.Head, "ab")
	}
	if ex.Tail != "abcdef" {
		t.Errorf("tail = %q, want %q", ex.Tail, "abcdef")
	}
}

func TestClassify(t *testing.T) {
	exitErr := errors.New("exit status 1")

	tests := []struct {
		name    string
		ctxErr  error
		exitErr error
		output  string
		want    domain.ErrorClass
	}{
		{"clean exit", nil, nil, "done", domain.ErrNone},
		{"auth failure", nil, exitErr, "Error: not logged in", domain.ErrFatal},
		{"rate limit", nil, exitErr, "API rate limit exceeded, retry later", domain.ErrTransient},
		{"stalled prompt", nil, exitErr, "Do you want to proceed? (y/n)", domain.ErrStalled},
		{"fatal beats transient", nil, exitErr, "invalid api key after timeout", domain.ErrFatal},
		{"unknown exit is fatal", nil, exitErr, "segfault", domain.ErrFatal},
		{"plain deadline", context.DeadlineExceeded, exitErr, "working on it", domain.ErrTransient},
		{"deadline on a stall", context.DeadlineExceeded, exitErr, "waiting for confirmation", domain.ErrStalled},
		{"case insensitive", nil, exitErr, "CONNECTION REFUSED", domain.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.ctxErr, tt.exitErr, tt.output); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	task := &domain.Task{
		ID:              "task_a1b2c3d4",
		Kind:            domain.KindFix,
		Title:           "Fix the flaky login test",
		Prompt:          "The login test fails intermittently.",
		TargetFiles:     []string{"auth/login_test.go"},
		SuccessCriteria: []string{"Test passes 10 runs in a row"},
		Context:         "CI has been red for two days.",
	}

	prompt := BuildPrompt(task)

	for _, want := range []string{
		"Task Type: FIX",
		"Fix the flaky login test",
		"auth/login_test.go",
		"Test passes 10 runs in a row",
		"CI has been red for two days.",
		"Implement the requested changes",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptReadOnly(t *testing.T) {
	task := &domain.Task{
		ID:     "task_a1b2c3d4",
		Kind:   domain.KindCodeReview,
		Title:  "Review the queue package",
		Prompt: "Look for locking bugs.",
	}

	prompt := BuildPrompt(task)
	if !strings.Contains(prompt, "without modifying any files") {
		t.Error("read-only prompt should forbid modification")
	}
	if strings.Contains(prompt, "Implement the requested changes") {
		t.Error("read-only prompt should not ask for changes")
	}
}

func TestAllowedTools(t *testing.T) {
	review := AllowedTools(domain.KindCodeReview)
	for _, tool := range review {
		if tool == "Edit" || tool == "Write" || tool == "Bash" {
			t.Errorf("read-only kind got mutating tool %s", tool)
		}
	}

	fix := AllowedTools(domain.KindFix)
	if !contains(fix, "Edit") || !contains(fix, "Bash") {
		t.Errorf("fix tools = %v, want Edit and Bash", fix)
	}

	docs := AllowedTools(domain.KindDocs)
	if !contains(docs, "Write") {
		t.Errorf("documentation tools = %v, want Write", docs)
	}
	if contains(docs, "Bash") {
		t.Errorf("documentation tools = %v, should not include Bash", docs)
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestExtractClaims(t *testing.T) {
	output := `I made the following changes:
- Modified: internal/auth/login.go
- Created: internal/auth/login_test.go
Modified: internal/auth/login.go
Some unrelated line mentioning files.
Deleted: internal/auth/legacy.go`

	claims := ExtractClaims(output)
	want := []string{
		"Modified: internal/auth/login.go",
		"Created: internal/auth/login_test.go",
		"Deleted: internal/auth/legacy.go",
	}
	if len(claims) != len(want) {
		t.Fatalf("claims = %v, want %v", claims, want)
	}
	for i := range want {
		if claims[i] != want[i] {
			t.Errorf("claims[%d] = %q, want %q", i, claims[i], want[i])
		}
	}
}

func TestExtractClaimsNone(t *testing.T) {
	if claims := ExtractClaims("Everything looks good, no changes needed."); len(claims) != 0 {
		t.Errorf("claims = %v, want none", claims)
	}
}

func TestExtractContent(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{"json result", `{"result": "all done"}`, "all done"},
		{"json content", `{"content": "report text"}`, "report text"},
		{"json with noise", "log line\n" + `{"result": "ok"}`, "ok"},
		{"plain text", "just plain output", "just plain output"},
		{"broken json", `{"result": `, `{"result":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractContent(tt.stdout); got != tt.want {
				t.Errorf("extractContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

// writeFakeAgent installs a shell script that mimics the agent CLI
func writeFakeAgent(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testTask(dir string) *domain.Task {
	return &domain.Task{
		ID:      "task_a1b2c3d4",
		Kind:    domain.KindFix,
		Title:   "Fix something",
		Prompt:  "Do the fix.",
		WorkDir: dir,
		Status:  domain.StatusRunning,
	}
}

func TestInvokeSuccess(t *testing.T) {
	agent := writeFakeAgent(t, `printf '%s' '{"result": "Modified: main.go\nAll fixed."}'`)
	b := NewClaudeBridge(agent, "", 30*time.Second, 0)

	res := b.Invoke(context.Background(), testTask(t.TempDir()), 1)

	if !res.Success {
		t.Fatalf("expected success, got errors %v", res.Errors)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Class != domain.ErrNone {
		t.Errorf("class = %v, want none", res.Class)
	}
	if !strings.Contains(res.Output, "All fixed.") {
		t.Errorf("output = %q, missing agent result", res.Output)
	}
	if len(res.ClaimedFiles) != 1 || res.ClaimedFiles[0] != "Modified: main.go" {
		t.Errorf("claimed files = %v", res.ClaimedFiles)
	}
	if res.FinishedAt.Before(res.StartedAt) {
		t.Error("finished before started")
	}
}

func TestInvokeFatalFailure(t *testing.T) {
	agent := writeFakeAgent(t, `echo "Error: not logged in" >&2; exit 1`)
	b := NewClaudeBridge(agent, "", 30*time.Second, 0)

	res := b.Invoke(context.Background(), testTask(t.TempDir()), 1)

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Class != domain.ErrFatal {
		t.Errorf("class = %v, want fatal", res.Class)
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", res.ExitCode)
	}
	if len(res.Errors) == 0 {
		t.Error("expected recorded errors")
	}
	if res.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", res.Attempt)
	}
}

func TestInvokeTransientFailure(t *testing.T) {
	agent := writeFakeAgent(t, `echo "503 service temporarily unavailable" >&2; exit 1`)
	b := NewClaudeBridge(agent, "", 30*time.Second, 0)

	res := b.Invoke(context.Background(), testTask(t.TempDir()), 1)

	if res.Class != domain.ErrTransient {
		t.Errorf("class = %v, want transient", res.Class)
	}
}

func TestInvokeTimeout(t *testing.T) {
	agent := writeFakeAgent(t, `sleep 5`)
	b := NewClaudeBridge(agent, "", 100*time.Millisecond, 0)

	res := b.Invoke(context.Background(), testTask(t.TempDir()), 1)

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if res.Class != domain.ErrTransient {
		t.Errorf("class = %v, want transient on plain timeout", res.Class)
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "timeout") {
		t.Errorf("errors = %v, want timeout message", res.Errors)
	}
}

func TestInvokeTaskTimeoutOverride(t *testing.T) {
	agent := writeFakeAgent(t, `sleep 5`)
	b := NewClaudeBridge(agent, "", time.Minute, 0)

	task := testTask(t.TempDir())
	task.Timeout = 100 * time.Millisecond

	start := time.Now()
	res := b.Invoke(context.Background(), task, 1)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("override not applied, invocation took %v", elapsed)
	}
	if res.Success {
		t.Error("expected timeout failure")
	}
}

func TestInvokeCancellation(t *testing.T) {
	agent := writeFakeAgent(t, `sleep 5`)
	b := NewClaudeBridge(agent, "", time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := b.Invoke(ctx, testTask(t.TempDir()), 1)

	if res.Success {
		t.Fatal("expected cancelled attempt to fail")
	}
	if len(res.Errors) == 0 || res.Errors[0] != "cancelled" {
		t.Errorf("errors = %v, want cancelled marker", res.Errors)
	}
}

func TestInvokeMissingCommand(t *testing.T) {
	b := NewClaudeBridge(filepath.Join(t.TempDir(), "no-such-agent"), "", time.Second, 0)

	res := b.Invoke(context.Background(), testTask(t.TempDir()), 1)

	if res.Success {
		t.Fatal("expected failure for missing executable")
	}
	if res.Class != domain.ErrFatal {
		t.Errorf("class = %v, want fatal", res.Class)
	}
}

func TestInvokeRunsInWorkDir(t *testing.T) {
	agent := writeFakeAgent(t, `pwd`)
	dir := t.TempDir()
	b := NewClaudeBridge(agent, "", 30*time.Second, 0)

	res := b.Invoke(context.Background(), testTask(dir), 1)

	if res.WorkDir != dir {
		t.Errorf("work dir = %q, want %q", res.WorkDir, dir)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(res.Output, filepath.Base(resolved)) {
		t.Errorf("output = %q, agent did not run in %q", res.Output, dir)
	}
}
