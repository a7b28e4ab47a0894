// Package scheduler runs the bounded worker pool that drains the durable
// queue. Each worker leases one entry at a time, drives it through the
// execution bridge, and hands the outcome to validation or the retry
// policy. A task id is never leased to two workers at once; attempts for
// one task are strictly sequential.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/artifact"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/bridge"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/queue"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/retry"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/validate"
)

const idlePoll = 500 * time.Millisecond

// Options wires the scheduler's collaborators and policy
type Options struct {
	Store           *queue.Store
	Invoker         bridge.Invoker
	Engine          *validate.Engine
	Recorder        *artifact.Recorder
	Events          *artifact.EventLog
	Archiver        *artifact.Archiver
	Notifier        notify.Notifier
	Policy          retry.Policy
	Workers         int
	BaseCwd         string
	ResultsDir      string
	LeaseGrace      time.Duration
	EscalateInvalid bool
}

// Scheduler owns the worker pool and the cancellation registry
type Scheduler struct {
	opts Options

	mu      sync.Mutex
	running map[string]context.CancelFunc

	wake chan struct{}
}

func New(opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoopNotifier{}
	}
	return &Scheduler{
		opts:    opts,
		running: make(map[string]context.CancelFunc),
		wake:    make(chan struct{}, 1),
	}
}

// Kick nudges idle workers after new work was enqueued
func (s *Scheduler) Kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Recover reconciles queue state after a restart: entries whose task
// already has a terminal artifact are dropped, and leases older than the
// grace period are treated as orphaned by a crashed worker and re-queued.
func (s *Scheduler) Recover() error {
	dropped, err := s.opts.Store.DropTerminal(s.opts.Recorder.HasTerminal)
	if err != nil {
		return fmt.Errorf("dropping terminal entries: %w", err)
	}
	for _, id := range dropped {
		log.Printf("dropped queue entry %s: terminal artifact already recorded", id)
	}

	// Startup: nothing is executing in this process yet, every aged
	// lease belongs to a dead worker.
	reclaimed, err := s.opts.Store.ReclaimStale(time.Now(), s.opts.LeaseGrace, nil)
	if err != nil {
		return fmt.Errorf("reclaiming stale leases: %w", err)
	}
	for _, id := range reclaimed {
		log.Printf("reclaimed stale lease for %s", id)
		s.event(domain.NewEvent(domain.EventLeaseReclaimed, id, 0, nil))
	}
	return nil
}

// ReclaimStale re-queues leases older than the grace period, skipping
// tasks this process is still executing. A legitimately long attempt
// holds its lease past any grace period; reclaiming it would hand the
// task to a second worker while the first is still running.
func (s *Scheduler) ReclaimStale(now time.Time) ([]string, error) {
	return s.opts.Store.ReclaimStale(now, s.opts.LeaseGrace, s.Running())
}

// Run blocks, draining the queue with the configured number of workers
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return s.workerLoop(ctx, workerID)
		})
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (s *Scheduler) workerLoop(ctx context.Context, workerID string) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entry, err := s.opts.Store.Lease(workerID, time.Now())
		if err != nil {
			log.Printf("%s: lease failed: %v", workerID, err)
			entry = nil
		}
		if entry == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			case <-time.After(idlePoll):
			}
			continue
		}

		s.process(ctx, workerID, entry)
	}
}

// process drives one leased entry through a single execution attempt
func (s *Scheduler) process(ctx context.Context, workerID string, entry *queue.Entry) {
	task, err := s.opts.Store.GetTask(entry.TaskID)
	if err != nil {
		log.Printf("%s: no snapshot for %s, dropping entry: %v", workerID, entry.TaskID, err)
		s.opts.Store.Complete(entry.TaskID)
		return
	}

	tctx, cancel := context.WithCancel(ctx)
	if !s.register(task.ID, cancel) {
		// Another worker is already executing this id; this lease is
		// bogus and the other execution's completion will settle the
		// entry.
		cancel()
		log.Printf("%s: refusing duplicate execution of %s", workerID, task.ID)
		return
	}
	defer s.unregister(task.ID)

	s.event(domain.NewEvent(domain.EventExecutionStarted, task.ID, entry.Attempt, map[string]any{
		"worker": workerID,
		"kind":   string(task.Kind),
	}))

	workDir := task.Scope(s.opts.BaseCwd)
	before := validate.Capture(workDir)

	res := s.opts.Invoker.Invoke(tctx, task, entry.Attempt)

	after := validate.Capture(workDir)

	s.event(domain.NewEvent(domain.EventExecutionFinished, task.ID, entry.Attempt, map[string]any{
		"success":  res.Success,
		"class":    string(res.Class),
		"duration": res.Duration().String(),
	}))

	if tctx.Err() == context.Canceled && ctx.Err() == nil {
		s.finishCancelled(task, res)
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-attempt: leave the lease in place, restart-time
		// recovery reclaims it after the grace period.
		return
	}

	if res.Success {
		s.finishSuccess(task, res, before, after)
		return
	}
	s.finishFailure(task, entry, res)
}

func (s *Scheduler) finishSuccess(task *domain.Task, res *domain.ExecutionResult, before, after validate.Snapshot) {
	verdict := s.opts.Engine.Validate(task, res, before, after)
	s.event(domain.NewEvent(domain.EventValidated, task.ID, res.Attempt, map[string]any{
		"valid":       verdict.Valid,
		"reasons":     verdict.Reasons,
		"cross_check": verdict.CrossCheck,
	}))

	status := domain.StatusSucceeded
	if !verdict.Valid && s.opts.EscalateInvalid {
		status = domain.StatusFailed
		log.Printf("%s: invalid verdict escalated to failure: %v", task.ID, verdict.Reasons)
	}

	s.finalize(task, res, verdict, status)
}

func (s *Scheduler) finishFailure(task *domain.Task, entry *queue.Entry, res *domain.ExecutionResult) {
	tr := retry.Decide(res.Class, entry.Attempt, s.opts.Policy)

	if tr.Status == domain.StatusRetrying {
		if err := s.record(task, res, nil, domain.StatusRetrying); err != nil {
			log.Printf("%s: recording retry artifact: %v", task.ID, err)
		}
		if err := s.opts.Store.Release(task.ID, time.Now().Add(tr.Delay)); err != nil {
			log.Printf("%s: releasing for retry: %v", task.ID, err)
			return
		}
		s.event(domain.NewEvent(domain.EventRetried, task.ID, entry.Attempt, map[string]any{
			"class": string(res.Class),
			"delay": tr.Delay.String(),
		}))
		s.Kick()
		return
	}

	s.finalize(task, res, nil, domain.StatusFailed)
}

func (s *Scheduler) finishCancelled(task *domain.Task, res *domain.ExecutionResult) {
	s.event(domain.NewEvent(domain.EventCancelled, task.ID, res.Attempt, nil))
	s.finalize(task, res, nil, domain.StatusCancelled)
}

// finalize records the terminal artifact, drops the queue entry,
// archives the request file, and notifies.
func (s *Scheduler) finalize(task *domain.Task, res *domain.ExecutionResult, verdict *domain.ValidationVerdict, status domain.TaskStatus) {
	if err := s.opts.Store.Complete(task.ID); err != nil {
		log.Printf("%s: completing queue entry: %v", task.ID, err)
	}
	s.conclude(task, res, verdict, status)
}

// conclude handles the terminal bookkeeping shared by normal completion
// and queued-entry cancellation, where the entry is already gone.
func (s *Scheduler) conclude(task *domain.Task, res *domain.ExecutionResult, verdict *domain.ValidationVerdict, status domain.TaskStatus) {
	if err := s.record(task, res, verdict, status); err != nil {
		log.Printf("%s: recording artifact: %v", task.ID, err)
	}

	if dest, err := s.opts.Archiver.Archive(task.SourcePath, task.ID, status); err != nil {
		log.Printf("%s: archiving request: %v", task.ID, err)
	} else {
		s.event(domain.NewEvent(domain.EventArchived, task.ID, res.Attempt, map[string]any{
			"dest":   dest,
			"status": string(status),
		}))
	}

	if err := s.opts.Notifier.Send(notify.Terminal(task, status, s.artifactDir(task.ID))); err != nil {
		log.Printf("%s: notification failed: %v", task.ID, err)
	}
}

func (s *Scheduler) record(task *domain.Task, res *domain.ExecutionResult, verdict *domain.ValidationVerdict, status domain.TaskStatus) error {
	if err := s.opts.Recorder.Record(task, res, verdict, status); err != nil {
		return err
	}
	s.event(domain.NewEvent(domain.EventArtifactWritten, task.ID, res.Attempt, map[string]any{
		"status": string(status),
	}))
	return nil
}

// Cancel stops a task. A running attempt gets its context cancelled and
// finishes through the normal completion path; a queued or backing-off
// entry is removed directly with a synthetic result for the artifact.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	cancel, isRunning := s.running[taskID]
	s.mu.Unlock()

	if isRunning {
		cancel()
		return nil
	}

	entry, err := s.opts.Store.Get(taskID)
	if err != nil {
		return err
	}
	task, err := s.opts.Store.GetTask(taskID)
	if err != nil {
		return err
	}
	if err := s.opts.Store.Cancel(taskID); err != nil {
		return err
	}

	now := time.Now()
	res := &domain.ExecutionResult{
		TaskID:     taskID,
		Attempt:    entry.Attempt,
		Errors:     []string{"cancelled before execution"},
		StartedAt:  now,
		FinishedAt: now,
	}
	s.event(domain.NewEvent(domain.EventCancelled, taskID, entry.Attempt, nil))
	s.conclude(task, res, nil, domain.StatusCancelled)
	return nil
}

func (s *Scheduler) register(taskID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[taskID]; ok {
		return false
	}
	s.running[taskID] = cancel
	return true
}

func (s *Scheduler) unregister(taskID string) {
	s.mu.Lock()
	delete(s.running, taskID)
	s.mu.Unlock()
}

// Running returns the ids of tasks currently being executed
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) event(ev domain.Event) {
	if err := s.opts.Events.Append(ev); err != nil {
		log.Printf("appending %s event: %v", ev.Type, err)
	}
}

func (s *Scheduler) artifactDir(taskID string) string {
	return filepath.Join(s.opts.ResultsDir, taskID)
}
