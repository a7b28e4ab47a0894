package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	taskID := args[0]

	path := filepath.Join(cfg.General.LogsDir, "events.ndjson")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("no event log at %s: %w", path, err)
	}
	defer f.Close()

	var events []domain.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev domain.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.TaskID == taskID {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(events) > logsTail {
		events = events[len(events)-logsTail:]
	}
	if len(events) == 0 {
		fmt.Printf("no events for %s\n", taskID)
		return nil
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s  %-20s attempt %d", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Attempt)
		if len(ev.Fields) > 0 {
			extra, _ := json.Marshal(ev.Fields)
			line += "  " + string(extra)
		}
		fmt.Println(line)
	}
	return nil
}
