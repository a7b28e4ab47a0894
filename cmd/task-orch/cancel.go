package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/artifact"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/queue"
)

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	taskID := args[0]

	// A running orchestrator handles in-flight cancellation; go through
	// its API when available.
	if cfg.Web.Enabled {
		if err := cancelViaAPI(cfg, taskID); err == nil {
			fmt.Printf("cancelled %s\n", taskID)
			return nil
		}
	}

	// No live instance reachable: remove the queued entry directly.
	if err := cancelDirect(cfg, taskID); err != nil {
		return err
	}
	fmt.Printf("cancelled %s (queue entry removed)\n", taskID)
	return nil
}

func cancelViaAPI(cfg *config.Config, taskID string) error {
	url := fmt.Sprintf("http://%s:%d/api/tasks/%s/cancel", cfg.Web.Host, cfg.Web.Port, taskID)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("cancel failed: %s", apiErr.Error)
	}
	return nil
}

func cancelDirect(cfg *config.Config, taskID string) error {
	store, err := queue.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	entry, err := store.Get(taskID)
	if err != nil {
		return err
	}
	task, err := store.GetTask(taskID)
	if err != nil {
		return err
	}
	if err := store.Cancel(taskID); err != nil {
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
	recorder := artifact.NewRecorder(cfg.General.ResultsDir)
	if err := recorder.Record(task, res, nil, domain.StatusCancelled); err != nil {
		return err
	}
	archiver := artifact.NewArchiver(filepath.Join(cfg.General.TasksDir, "processed"))
	_, err = archiver.Archive(task.SourcePath, taskID, domain.StatusCancelled)
	return err
}
