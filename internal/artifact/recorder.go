// Package artifact persists the durable record of what happened to each
// task: one JSON artifact per attempt, an append-only NDJSON event log,
// and the archive of processed request files. Artifacts are written
// whole and never mutated after the fact.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// SchemaVersion is embedded in every artifact so readers can detect
// layout changes.
const SchemaVersion = 1

// Artifact is the full record of one attempt
type Artifact struct {
	SchemaVersion int                       `json:"schema_version"`
	Status        domain.TaskStatus         `json:"status"`
	Task          *domain.Task              `json:"task"`
	Result        *domain.ExecutionResult   `json:"result"`
	Verdict       *domain.ValidationVerdict `json:"verdict,omitempty"`
	RecordedAt    time.Time                 `json:"recorded_at"`
}

// Recorder writes artifacts under resultsDir/<task-id>/attempt-<n>.json
type Recorder struct {
	resultsDir string
}

func NewRecorder(resultsDir string) *Recorder {
	return &Recorder{resultsDir: resultsDir}
}

// Record writes the artifact for one attempt. Writing the same task id
// and attempt twice is an error; artifacts are immutable history.
func (r *Recorder) Record(task *domain.Task, res *domain.ExecutionResult, verdict *domain.ValidationVerdict, status domain.TaskStatus) error {
	dir := filepath.Join(r.resultsDir, task.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	path := filepath.Join(dir, attemptFile(res.Attempt))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("artifact for %s attempt %d already exists", task.ID, res.Attempt)
	}

	art := Artifact{
		SchemaVersion: SchemaVersion,
		Status:        status,
		Task:          task,
		Result:        res,
		Verdict:       verdict,
		RecordedAt:    time.Now().UTC(),
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling artifact: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing artifact: %w", err)
	}
	return nil
}

// Load reads one attempt's artifact back
func (r *Recorder) Load(taskID string, attempt int) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(r.resultsDir, taskID, attemptFile(attempt)))
	if err != nil {
		return nil, err
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("parsing artifact: %w", err)
	}
	return &art, nil
}

// List returns all recorded artifacts for a task in attempt order
func (r *Recorder) List(taskID string) ([]*Artifact, error) {
	entries, err := os.ReadDir(filepath.Join(r.resultsDir, taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var arts []*Artifact
	for _, e := range entries {
		var attempt int
		if _, err := fmt.Sscanf(e.Name(), "attempt-%d.json", &attempt); err != nil {
			continue
		}
		art, err := r.Load(taskID, attempt)
		if err != nil {
			continue
		}
		arts = append(arts, art)
	}
	sort.Slice(arts, func(i, j int) bool { return arts[i].Result.Attempt < arts[j].Result.Attempt })
	return arts, nil
}

// HasTerminal reports whether any recorded artifact for the task id
// carries a terminal status. Admission uses this to reject duplicate
// identities, the queue to drop stale entries at startup.
func (r *Recorder) HasTerminal(taskID string) bool {
	arts, err := r.List(taskID)
	if err != nil {
		return false
	}
	for _, a := range arts {
		if a.Status.IsTerminal() {
			return true
		}
	}
	return false
}

func attemptFile(attempt int) string {
	return fmt.Sprintf("attempt-%d.json", attempt)
}
