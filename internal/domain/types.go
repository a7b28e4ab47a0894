package domain

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	StatusReceived  TaskStatus = "received"
	StatusAdmitted  TaskStatus = "admitted"
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusRetrying  TaskStatus = "retrying"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true for statuses that end a task's lifecycle
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskKind classifies what a task asks the agent to do
type TaskKind string

const (
	KindCodeReview TaskKind = "code_review"
	KindSummarize  TaskKind = "summarize"
	KindFix        TaskKind = "fix"
	KindAnalyze    TaskKind = "analyze"
	KindDocs       TaskKind = "documentation"
)

// ReadOnly returns true for kinds that should not modify files
func (k TaskKind) ReadOnly() bool {
	return k == KindCodeReview || k == KindSummarize
}

// Priority represents task priority
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Order returns a sortable rank, lower runs first
func (p Priority) Order() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// ErrorClass classifies an execution failure for retry policy
type ErrorClass string

const (
	ErrNone      ErrorClass = ""
	ErrTransient ErrorClass = "transient"
	ErrStalled   ErrorClass = "stalled"
	ErrFatal     ErrorClass = "fatal"
)

// Retryable returns true for classes the retry controller may resubmit
func (c ErrorClass) Retryable() bool {
	return c == ErrTransient || c == ErrStalled
}
