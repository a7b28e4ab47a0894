// Package maintenance runs periodic housekeeping: reclaiming leases
// orphaned by crashed workers and pruning old archived request files.
// Jobs are cron-scheduled and never overlap with themselves.
package maintenance

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const tickInterval = 30 * time.Second

// Job is one recurring housekeeping task
type Job struct {
	Name string
	Cron string
	Run  func() error
}

// Janitor executes due jobs on a coarse tick
type Janitor struct {
	jobs   []Job
	parser cron.Parser

	mu      sync.Mutex
	lastRun map[string]time.Time
	running map[string]bool
}

func NewJanitor(jobs ...Job) (*Janitor, error) {
	j := &Janitor{
		jobs:    jobs,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
	}
	for _, job := range jobs {
		if _, err := j.parser.Parse(job.Cron); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// Start blocks, running due jobs until ctx is cancelled
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runDue()
		}
	}
}

func (j *Janitor) runDue() {
	for _, job := range j.jobs {
		if !j.shouldRun(job) {
			continue
		}
		j.markRunning(job.Name)
		go func(job Job) {
			defer j.markComplete(job.Name)
			if err := job.Run(); err != nil {
				log.Printf("maintenance job %s: %v", job.Name, err)
			}
		}(job)
	}
}

func (j *Janitor) shouldRun(job Job) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running[job.Name] {
		return false
	}

	sched, err := j.parser.Parse(job.Cron)
	if err != nil {
		return false
	}

	last := j.lastRun[job.Name]
	if last.IsZero() {
		// Treat startup as one schedule interval ago so frequent jobs
		// run soon and daily jobs wait for their slot.
		j.lastRun[job.Name] = time.Now()
		last = time.Now()
	}
	return time.Now().After(sched.Next(last))
}

func (j *Janitor) markRunning(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running[name] = true
}

func (j *Janitor) markComplete(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running[name] = false
	j.lastRun[name] = time.Now()
}

// ReclaimJob builds the job that requeues stale leases
func ReclaimJob(reclaim func() error) Job {
	return Job{
		Name: "reclaim_leases",
		Cron: "* * * * *",
		Run:  reclaim,
	}
}

// PruneProcessedJob builds the job that deletes archived request files
// older than the retention window.
func PruneProcessedJob(processedDir string, retention time.Duration) Job {
	return Job{
		Name: "prune_processed",
		Cron: "0 3 * * *",
		Run: func() error {
			return PruneProcessed(processedDir, retention, time.Now())
		},
	}
}

// PruneProcessed removes archived request files older than retention
func PruneProcessed(processedDir string, retention time.Duration, now time.Time) error {
	entries, err := os.ReadDir(processedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := now.Add(-retention)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(processedDir, e.Name())
			if err := os.Remove(path); err != nil {
				log.Printf("pruning %s: %v", path, err)
			}
		}
	}
	return nil
}
