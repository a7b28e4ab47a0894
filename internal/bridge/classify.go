package bridge

import (
	"context"
	"strings"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// Marker lists are matched case-insensitively against the combined
// stdout+stderr excerpts. Order matters: fatal wins over transient so an
// authorization failure mentioning a timeout is still terminal.

var fatalMarkers = []string{
	"not logged in",
	"authentication_error",
	"authentication failed",
	"invalid api key",
	"permission denied",
	"unauthorized",
	"unknown flag",
	"unknown option",
	"invalid argument",
	"usage:",
	"command not found",
	"executable file not found",
}

var transientMarkers = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"temporarily unavailable",
	"overloaded_error",
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"connection aborted",
	"network error",
	"retry later",
	"503",
	"504",
}

// stalledMarkers match output shapes of an agent waiting for input that
// will never come in a headless run. Treated as transient for retry
// purposes but flagged distinctly so the caller can reframe the next
// invocation.
var stalledMarkers = []string{
	"do you want to proceed",
	"waiting for confirmation",
	"press enter to continue",
	"(y/n)",
	"[y/n]",
	"needs your permission",
	"awaiting input",
}

// Classify maps an attempt's context error, exit state, and captured
// output to an error class. ctxErr distinguishes our own timeout or
// cancellation from the process failing on its own.
func Classify(ctxErr error, exitErr error, output string) domain.ErrorClass {
	if ctxErr == context.DeadlineExceeded {
		// A timeout that interrupted a stalled prompt is a stall, not a
		// slow agent.
		if containsAny(output, stalledMarkers) {
			return domain.ErrStalled
		}
		return domain.ErrTransient
	}

	if exitErr == nil {
		return domain.ErrNone
	}

	if containsAny(output, fatalMarkers) {
		return domain.ErrFatal
	}
	if containsAny(output, stalledMarkers) {
		return domain.ErrStalled
	}
	if containsAny(output, transientMarkers) {
		return domain.ErrTransient
	}

	// Unrecognized nonzero exit: terminal. Retrying an unknown failure
	// mode repeats it.
	return domain.ErrFatal
}

func containsAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
