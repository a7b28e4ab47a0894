package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// Entry is one queued or in-flight task record
type Entry struct {
	TaskID       string
	Attempt      int
	NextEligible time.Time
	LockOwner    string
	LockedAt     *time.Time
	Priority     domain.Priority
	Status       domain.TaskStatus
	CreatedAt    time.Time
}

// Store is the SQLite-backed durable queue. Every mutation is serialized
// behind one mutex (single-writer discipline) and lands in the database
// immediately, so a restart reloads pending and in-flight state intact.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps all access on a single sqlite handle, which
	// also makes ":memory:" databases behave under the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue inserts a queue entry plus a full task snapshot so the task can
// be re-materialized after a restart. Inserting an existing task id fails.
func (s *Store) Enqueue(task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Attempt numbering is 1-based: the first execution is attempt 1.
	_, err = tx.Exec(`
		INSERT INTO entries (task_id, attempt, next_eligible_at, lock_owner, priority, status, created_at)
		VALUES (?, 1, ?, '', ?, ?, ?)
	`, task.ID, time.Now(), task.Priority.Order(), string(domain.StatusQueued), task.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting entry for %s: %w", task.ID, err)
	}

	targets, err := json.Marshal(task.TargetFiles)
	if err != nil {
		return err
	}
	criteria, err := json.Marshal(task.SuccessCriteria)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO task_snapshots (task_id, kind, priority, title, prompt, target_files, success_criteria, context, work_dir, timeout_secs, source_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		string(task.Kind),
		string(task.Priority),
		task.Title,
		task.Prompt,
		string(targets),
		string(criteria),
		task.Context,
		task.WorkDir,
		int(task.Timeout/time.Second),
		task.SourcePath,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot for %s: %w", task.ID, err)
	}

	return tx.Commit()
}

// Lease atomically assigns the next eligible entry to a worker. Entries
// already holding a lock are excluded, so a task id is never leased
// twice concurrently. Returns nil when nothing is eligible.
func (s *Store) Lease(workerID string, now time.Time) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT task_id, attempt, next_eligible_at, priority, status, created_at
		FROM entries
		WHERE lock_owner = '' AND next_eligible_at <= ? AND status IN (?, ?)
		ORDER BY priority ASC, created_at ASC
		LIMIT 1
	`, now, string(domain.StatusQueued), string(domain.StatusRetrying))

	var e Entry
	var prio int
	var status string
	err = row.Scan(&e.TaskID, &e.Attempt, &e.NextEligible, &prio, &status, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lockedAt := now
	_, err = tx.Exec(`
		UPDATE entries SET lock_owner = ?, locked_at = ?, status = ? WHERE task_id = ?
	`, workerID, lockedAt, string(domain.StatusRunning), e.TaskID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.LockOwner = workerID
	e.LockedAt = &lockedAt
	e.Priority = priorityFromOrder(prio)
	e.Status = domain.StatusRunning
	return &e, nil
}

// Release requeues a leased entry for a later attempt: the lock clears,
// the attempt count advances, and the entry becomes eligible again at
// nextEligible.
func (s *Store) Release(taskID string, nextEligible time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE entries
		SET lock_owner = '', locked_at = NULL, attempt = attempt + 1, next_eligible_at = ?, status = ?
		WHERE task_id = ?
	`, nextEligible, string(domain.StatusRetrying), taskID)
	if err != nil {
		return err
	}
	return requireRow(res, taskID)
}

// Complete removes the entry once the task reached a terminal status
func (s *Store) Complete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM entries WHERE task_id = ?`, taskID)
	if err != nil {
		return err
	}
	return requireRow(res, taskID)
}

// Cancel removes a queued or backing-off entry. In-flight cancellation
// is handled by the scheduler; this covers entries no worker holds.
func (s *Store) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM entries WHERE task_id = ? AND lock_owner = ''`, taskID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no pending entry for %s", taskID)
	}
	return nil
}

// Contains reports whether an entry exists for the task id
func (s *Store) Contains(taskID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM entries WHERE task_id = ?`, taskID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Get returns the entry for a task id, or nil
func (s *Store) Get(taskID string) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT task_id, attempt, next_eligible_at, lock_owner, locked_at, priority, status, created_at
		FROM entries WHERE task_id = ?
	`, taskID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// List returns all entries ordered by priority then age
func (s *Store) List() ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT task_id, attempt, next_eligible_at, lock_owner, locked_at, priority, status, created_at
		FROM entries ORDER BY priority ASC, created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetTask re-materializes the task snapshot stored at enqueue time
func (s *Store) GetTask(taskID string) (*domain.Task, error) {
	row := s.db.QueryRow(`
		SELECT s.task_id, s.kind, s.priority, s.title, s.prompt, s.target_files, s.success_criteria,
		       s.context, s.work_dir, s.timeout_secs, s.source_path, s.created_at, e.status
		FROM task_snapshots s JOIN entries e ON e.task_id = s.task_id
		WHERE s.task_id = ?
	`, taskID)

	var task domain.Task
	var kind, priority, targets, criteria, status string
	var timeoutSecs int
	err := row.Scan(&task.ID, &kind, &priority, &task.Title, &task.Prompt, &targets, &criteria,
		&task.Context, &task.WorkDir, &timeoutSecs, &task.SourcePath, &task.CreatedAt, &status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshot for task %s", taskID)
	}
	if err != nil {
		return nil, err
	}

	task.Kind = domain.TaskKind(kind)
	task.Priority = domain.Priority(priority)
	task.Status = domain.TaskStatus(status)
	task.Timeout = time.Duration(timeoutSecs) * time.Second
	if targets != "" && targets != "null" {
		if err := json.Unmarshal([]byte(targets), &task.TargetFiles); err != nil {
			return nil, err
		}
	}
	if criteria != "" && criteria != "null" {
		if err := json.Unmarshal([]byte(criteria), &task.SuccessCriteria); err != nil {
			return nil, err
		}
	}
	return &task, nil
}

// ReclaimStale clears locks older than grace so a crashed worker's
// entries become eligible for re-lease. The age of a lock says nothing
// about the worker holding it, so callers in a live process must pass
// the task ids they are still executing in exclude; those locks are
// left alone no matter how old they are. Returns the reclaimed ids.
func (s *Store) ReclaimStale(now time.Time, grace time.Duration, exclude []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	cutoff := now.Add(-grace)
	rows, err := s.db.Query(`
		SELECT task_id FROM entries WHERE lock_owner != '' AND locked_at <= ?
	`, cutoff)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		if !excluded[id] {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.db.Exec(`
			UPDATE entries SET lock_owner = '', locked_at = NULL, status = ? WHERE task_id = ?
		`, string(domain.StatusQueued), id); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// DropTerminal removes entries whose task id already has a terminal
// artifact. The artifact store is authoritative over queue state, so a
// crash between recording and dequeue never reprocesses finished work.
func (s *Store) DropTerminal(hasTerminal func(taskID string) bool) ([]string, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	for _, e := range entries {
		if hasTerminal(e.TaskID) {
			if _, err := s.db.Exec(`DELETE FROM entries WHERE task_id = ?`, e.TaskID); err != nil {
				return dropped, err
			}
			dropped = append(dropped, e.TaskID)
		}
	}
	return dropped, nil
}

// Counts returns pending and running entry counts for status display
func (s *Store) Counts() (pending, running int, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*) FROM entries WHERE lock_owner = ''`).Scan(&pending)
	if err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM entries WHERE lock_owner != ''`).Scan(&running)
	return pending, running, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*Entry, error) {
	var e Entry
	var prio int
	var status string
	var lockedAt sql.NullTime
	err := row.Scan(&e.TaskID, &e.Attempt, &e.NextEligible, &e.LockOwner, &lockedAt, &prio, &status, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lockedAt.Valid {
		e.LockedAt = &lockedAt.Time
	}
	e.Priority = priorityFromOrder(prio)
	e.Status = domain.TaskStatus(status)
	return &e, nil
}

func priorityFromOrder(o int) domain.Priority {
	switch o {
	case 0:
		return domain.PriorityHigh
	case 2:
		return domain.PriorityLow
	default:
		return domain.PriorityNormal
	}
}

func requireRow(res sql.Result, taskID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no entry for task %s", taskID)
	}
	return nil
}
