package bridge

import (
	"context"
	"encoding/json"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

const (
	defaultHeadBytes = 8 * 1024
	defaultTailBytes = 4 * 1024
)

// ClaudeBridge invokes the Claude Code CLI in non-interactive mode.
// One invocation per attempt, no session state carried between attempts.
type ClaudeBridge struct {
	Command   string
	BaseCwd   string
	Timeout   time.Duration
	MaxTurns  int
	HeadBytes int
	TailBytes int
}

// NewClaudeBridge creates a bridge around the claude executable
func NewClaudeBridge(command, baseCwd string, timeout time.Duration, maxTurns int) *ClaudeBridge {
	if command == "" {
		command = "claude"
	}
	return &ClaudeBridge{
		Command:   command,
		BaseCwd:   baseCwd,
		Timeout:   timeout,
		MaxTurns:  maxTurns,
		HeadBytes: defaultHeadBytes,
		TailBytes: defaultTailBytes,
	}
}

// Invoke runs one attempt. The returned result carries a classification
// instead of an error for every expected failure shape; the wall-clock
// timeout is enforced here, per attempt.
func (b *ClaudeBridge) Invoke(ctx context.Context, task *domain.Task, attempt int) *domain.ExecutionResult {
	timeout := b.Timeout
	if task.Timeout > 0 {
		timeout = task.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := task.Scope(b.BaseCwd)
	result := &domain.ExecutionResult{
		TaskID:    task.ID,
		Attempt:   attempt,
		WorkDir:   workDir,
		StartedAt: time.Now(),
	}

	args := []string{
		"--print",
		"--output-format", "json",
		"--allowedTools", strings.Join(AllowedTools(task.Kind), ","),
	}
	if b.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(b.MaxTurns))
	}
	args = append(args, "-p", BuildPrompt(task))

	cmd := exec.CommandContext(cctx, b.Command, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}

	stdout := newBoundedBuffer(b.HeadBytes, b.TailBytes)
	stderr := newBoundedBuffer(b.HeadBytes, b.TailBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	result.FinishedAt = time.Now()
	result.Stdout = stdout.Excerpt()
	result.Stderr = stderr.Excerpt()
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	combined := stdout.String() + "\n" + stderr.String()

	switch {
	case cctx.Err() == context.DeadlineExceeded:
		result.Class = Classify(cctx.Err(), runErr, combined)
		result.Errors = append(result.Errors, "timeout after "+timeout.String())
	case ctx.Err() == context.Canceled:
		result.Errors = append(result.Errors, "cancelled")
	case runErr != nil:
		result.Class = Classify(nil, runErr, combined)
		result.Errors = append(result.Errors, runErr.Error())
		if s := stderr.Excerpt().Head; s != "" {
			result.Errors = append(result.Errors, strings.TrimSpace(s))
		}
	default:
		result.Success = true
	}

	result.Output = extractContent(stdout.Excerpt().Head)
	result.ClaimedFiles = ExtractClaims(result.Output)

	return result
}

// CheckAvailable returns true if the agent CLI responds to a status probe
func (b *ClaudeBridge) CheckAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, b.Command, "--version").Run() == nil
}

// extractContent pulls the textual result out of the CLI's JSON envelope,
// falling back to the raw text when the output is not JSON.
func extractContent(stdout string) string {
	s := strings.TrimSpace(stdout)
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return s
	}

	var envelope struct {
		Result  string `json:"result"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &envelope); err != nil {
		return s
	}
	if envelope.Result != "" {
		return envelope.Result
	}
	if envelope.Content != "" {
		return envelope.Content
	}
	return s
}

var claimRegex = regexp.MustCompile(`(?im)^\s*(?:[-*]\s*)?(created|modified|updated|deleted|wrote):?\s+([^\s].*?)\s*$`)

// ExtractClaims scans the agent's textual output for self-reported file
// mutations ("Modified: path"). These are claims, not observations; the
// validation engine cross-checks them against the real filesystem.
func ExtractClaims(output string) []string {
	var claims []string
	seen := make(map[string]bool)
	for _, m := range claimRegex.FindAllStringSubmatch(output, -1) {
		verb := strings.ToLower(m[1])
		claim := strings.ToUpper(verb[:1]) + verb[1:] + ": " + m[2]
		if !seen[claim] {
			seen[claim] = true
			claims = append(claims, claim)
		}
	}
	return claims
}
