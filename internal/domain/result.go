package domain

import "time"

// Excerpt holds bounded head/tail slices of a captured stream
type Excerpt struct {
	Head      string `json:"head"`
	Tail      string `json:"tail,omitempty"`
	Truncated bool   `json:"truncated"`
}

// ExecutionResult is the outcome of one invocation of the external agent.
// The bridge returns one in all cases, including expected failure classes.
type ExecutionResult struct {
	TaskID       string     `json:"task_id"`
	Attempt      int        `json:"attempt"`
	Success      bool       `json:"success"`
	ExitCode     int        `json:"exit_code"`
	Class        ErrorClass `json:"error_class,omitempty"`
	Errors       []string   `json:"errors,omitempty"`
	Output       string     `json:"output"`
	Stdout       Excerpt    `json:"stdout"`
	Stderr       Excerpt    `json:"stderr"`
	ClaimedFiles []string   `json:"claimed_files,omitempty"`
	WorkDir      string     `json:"work_dir,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
}

// Duration returns the wall-clock time of the attempt
func (r *ExecutionResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ValidationVerdict is a plausibility assessment of a successful attempt.
// It is informational, not a pass/fail gate, unless policy escalates it.
type ValidationVerdict struct {
	TaskID      string   `json:"task_id"`
	Attempt     int      `json:"attempt"`
	Valid       bool     `json:"valid"`
	Reasons     []string `json:"reasons,omitempty"`
	Similarity  float64  `json:"similarity"`
	Entropy     float64  `json:"entropy"`
	StructureOK bool     `json:"structure_ok"`
	CrossCheck  string   `json:"cross_check"` // confirmed | no_effect | unverifiable | not_applicable
}

// Verdict reason codes surfaced in artifacts and events
const (
	ReasonLowSimilarity    = "low_similarity"
	ReasonLowEntropy       = "low_entropy"
	ReasonStructure        = "structure_mismatch"
	ReasonNoEffectSuccess  = "no_effect_success"
	ReasonClaimsNoEvidence = "claims_changes_without_evidence"
	ReasonOutsideScope     = "changes_outside_target_scope"
	ReasonUnverifiable     = "unverifiable_claim"
	ReasonEditInReadOnly   = "edit_language_in_readonly_task"
)
