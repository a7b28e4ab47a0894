// Package orchestrator wires the watcher, admission, queue, scheduler,
// and recorder into one running process guarded by a single-instance
// file lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/admission"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/artifact"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/bridge"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/maintenance"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/queue"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/retry"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/scheduler"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/validate"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/watcher"
	"github.com/hochfrequenz/claude-task-orchestrator/web/api"
)

const processedRetention = 30 * 24 * time.Hour

// ErrAlreadyRunning means another orchestrator holds the instance lock
var ErrAlreadyRunning = errors.New("another orchestrator instance is already running")

// Orchestrator owns all long-running components
type Orchestrator struct {
	cfg      *config.Config
	store    *queue.Store
	events   *artifact.EventLog
	recorder *artifact.Recorder
	archiver *artifact.Archiver
	admitter *admission.Admitter
	sched    *scheduler.Scheduler
	watch    *watcher.Watcher
	server   *api.Server
	agent    *bridge.ClaudeBridge
	lock     *flock.Flock
}

// history satisfies admission.History from the queue and the artifacts
type history struct {
	store    *queue.Store
	recorder *artifact.Recorder
}

func (h history) InQueue(taskID string) (bool, error) { return h.store.Contains(taskID) }
func (h history) HasTerminal(taskID string) bool      { return h.recorder.HasTerminal(taskID) }

// New builds an orchestrator from configuration. Directories are created
// as needed; the database and event log are opened immediately.
func New(cfg *config.Config) (*Orchestrator, error) {
	for _, dir := range []string{cfg.General.TasksDir, cfg.General.ResultsDir, cfg.General.LogsDir, filepath.Dir(cfg.General.DatabasePath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	store, err := queue.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening queue: %w", err)
	}

	events, err := artifact.NewEventLog(filepath.Join(cfg.General.LogsDir, "events.ndjson"))
	if err != nil {
		store.Close()
		return nil, err
	}

	recorder := artifact.NewRecorder(cfg.General.ResultsDir)
	archiver := artifact.NewArchiver(filepath.Join(cfg.General.TasksDir, "processed"))

	agent := bridge.NewClaudeBridge(cfg.Agent.Command, cfg.Agent.BaseCwd, cfg.Agent.Timeout(), cfg.Agent.MaxTurns)

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}

	sched := scheduler.New(scheduler.Options{
		Store:    store,
		Invoker:  agent,
		Engine:   validate.New(&cfg.Validation),
		Recorder: recorder,
		Events:   events,
		Archiver: archiver,
		Notifier: notify.NewMultiNotifier(notifiers...),
		Policy: retry.Policy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			BaseDelay:    time.Duration(cfg.Retry.BaseDelaySec * float64(time.Second)),
			GrowthFactor: cfg.Retry.GrowthFactor,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelaySec * float64(time.Second)),
			JitterFactor: cfg.Retry.JitterFactor,
		},
		Workers:         cfg.General.MaxWorkers,
		BaseCwd:         cfg.Agent.BaseCwd,
		ResultsDir:      cfg.General.ResultsDir,
		LeaseGrace:      cfg.General.LeaseGrace(),
		EscalateInvalid: cfg.Validation.EscalateInvalid,
	})

	watch, err := watcher.New(cfg.General.TasksDir, cfg.Watch.Pattern, cfg.Watch.QuietWindow())
	if err != nil {
		events.Close()
		store.Close()
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		events:   events,
		recorder: recorder,
		archiver: archiver,
		admitter: admission.New(cfg.General.MaxRequestBytes, cfg.Agent.AllowedRoot, cfg.General.LeaseGrace(), history{store: store, recorder: recorder}),
		sched:    sched,
		watch:    watch,
		agent:    agent,
		lock:     flock.New(filepath.Join(cfg.General.LogsDir, "orchestrator.lock")),
	}

	if cfg.Web.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
		o.server = api.NewServer(store, recorder, sched, addr)
		events.Subscribe(o.server.Broadcast)
	}

	return o, nil
}

// Scheduler exposes the scheduler for cancellation from the CLI
func (o *Orchestrator) Scheduler() *scheduler.Scheduler {
	return o.sched
}

// Run acquires the instance lock and drives all components until ctx is
// cancelled. Pending queue state is recovered before the watcher starts
// accepting new work.
func (o *Orchestrator) Run(ctx context.Context) error {
	locked, err := o.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer o.lock.Unlock()
	defer o.events.Close()
	defer o.store.Close()

	if !o.agent.CheckAvailable(ctx) {
		log.Printf("warning: agent command %q not responding, executions will fail", o.agent.Command)
	}

	if err := o.sched.Recover(); err != nil {
		return err
	}

	janitor, err := maintenance.NewJanitor(
		maintenance.ReclaimJob(func() error {
			ids, err := o.sched.ReclaimStale(time.Now())
			for _, id := range ids {
				o.event(domain.NewEvent(domain.EventLeaseReclaimed, id, 0, nil))
			}
			if len(ids) > 0 {
				o.sched.Kick()
			}
			return err
		}),
		maintenance.PruneProcessedJob(filepath.Join(o.cfg.General.TasksDir, "processed"), processedRetention),
	)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.sched.Run(ctx) })
	g.Go(func() error {
		if err := o.watch.Start(ctx, o.handleReady); err != nil {
			return err
		}
		<-ctx.Done()
		o.watch.Stop()
		return ctx.Err()
	})
	g.Go(func() error {
		janitor.Start(ctx)
		return nil
	})
	if o.server != nil {
		g.Go(func() error { return o.server.Start(ctx) })
	}

	log.Printf("orchestrator running: watching %s with %d workers", o.cfg.General.TasksDir, o.cfg.General.MaxWorkers)

	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// handleReady admits one debounced task file and enqueues it
func (o *Orchestrator) handleReady(path string) {
	o.event(domain.NewEvent(domain.EventReceived, "", 0, map[string]any{"path": path}))

	task, err := o.admitter.Admit(path)
	if err != nil {
		var dup *admission.ErrDuplicate
		if errors.As(err, &dup) {
			log.Printf("duplicate task %s from %s, ignoring", dup.TaskID, path)
			o.event(domain.NewEvent(domain.EventRejected, dup.TaskID, 0, map[string]any{
				"path":   path,
				"reason": "duplicate",
			}))
			return
		}
		// Malformed files stay in place; fixing the file retriggers
		// admission through the watcher.
		log.Printf("rejected %s: %v", path, err)
		o.event(domain.NewEvent(domain.EventRejected, "", 0, map[string]any{
			"path":   path,
			"reason": err.Error(),
		}))
		return
	}

	o.event(domain.NewEvent(domain.EventAdmitted, task.ID, 0, map[string]any{
		"kind":     string(task.Kind),
		"priority": string(task.Priority),
	}))

	if err := o.store.Enqueue(task); err != nil {
		log.Printf("enqueueing %s: %v", task.ID, err)
		return
	}
	o.event(domain.NewEvent(domain.EventQueued, task.ID, 0, nil))
	o.sched.Kick()
}

func (o *Orchestrator) event(ev domain.Event) {
	if err := o.events.Append(ev); err != nil {
		log.Printf("appending %s event: %v", ev.Type, err)
	}
}
