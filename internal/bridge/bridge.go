// Package bridge invokes the external execution agent for a task and
// turns whatever happened into an ExecutionResult. Expected failure
// classes (timeouts, rate limits, stalls, refusals) are classifications
// on the result, never Go errors.
package bridge

import (
	"context"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// Invoker is the execution capability. Alternative agent backends
// implement this contract; nothing else about them is assumed.
type Invoker interface {
	// Invoke runs one attempt for the task. It returns a result in all
	// cases; ctx carries both the per-attempt timeout and cancellation.
	Invoke(ctx context.Context, task *domain.Task, attempt int) *domain.ExecutionResult
}

// InvokerFunc adapts a function to the Invoker interface
type InvokerFunc func(ctx context.Context, task *domain.Task, attempt int) *domain.ExecutionResult

func (f InvokerFunc) Invoke(ctx context.Context, task *domain.Task, attempt int) *domain.ExecutionResult {
	return f(ctx, task, attempt)
}
