package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/queue"
)

var (
	createType     string
	createPriority string
	createTargets  []string
	createCriteria []string
	createContext  string
	createCwd      string
	createTimeout  int
	logsTail       int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator",
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queued tasks",
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	createCmd := &cobra.Command{
		Use:   "create DESCRIPTION",
		Short: "Create a task request file",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}
	createCmd.Flags().StringVar(&createType, "type", "", "task type (fix, code_review, summarize, analyze, documentation); inferred when omitted")
	createCmd.Flags().StringVar(&createPriority, "priority", "normal", "task priority (high, normal, low)")
	createCmd.Flags().StringSliceVar(&createTargets, "target", nil, "target file (repeatable)")
	createCmd.Flags().StringSliceVar(&createCriteria, "criterion", nil, "success criterion (repeatable)")
	createCmd.Flags().StringVar(&createContext, "context", "", "extra context for the agent")
	createCmd.Flags().StringVar(&createCwd, "cwd", "", "working directory override")
	createCmd.Flags().IntVar(&createTimeout, "timeout", 0, "per-attempt timeout in seconds")
	rootCmd.AddCommand(createCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	rootCmd.AddCommand(cancelCmd)

	logsCmd := &cobra.Command{
		Use:   "logs TASK_ID",
		Short: "Show lifecycle events for a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	logsCmd.Flags().IntVar(&logsTail, "tail", 50, "maximum events to show")
	rootCmd.AddCommand(logsCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	o, err := orchestrator.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return o.Run(ctx)
}

func statusColor(s domain.TaskStatus) *color.Color {
	switch s {
	case domain.StatusRunning:
		return color.New(color.FgYellow)
	case domain.StatusRetrying:
		return color.New(color.FgMagenta)
	case domain.StatusSucceeded:
		return color.New(color.FgGreen)
	case domain.StatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := queue.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	pending, running, err := store.Counts()
	if err != nil {
		return err
	}

	fmt.Printf("Queue: %s pending | %s running\n",
		color.New(color.FgCyan).Sprintf("%d", pending),
		color.New(color.FgYellow).Sprintf("%d", running))

	entries, err := store.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		line := fmt.Sprintf("  %-24s %-9s attempt %d", e.TaskID, e.Status, e.Attempt)
		if e.Status == domain.StatusRetrying && e.NextEligible.After(time.Now()) {
			line += fmt.Sprintf(" (next try in %s)", time.Until(e.NextEligible).Round(time.Second))
		}
		statusColor(e.Status).Println(line)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := queue.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tKIND\tPRIORITY\tSTATUS\tATTEMPT")
	for _, e := range entries {
		title, kind := "-", "-"
		if task, err := store.GetTask(e.TaskID); err == nil {
			title, kind = task.Title, string(task.Kind)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			e.TaskID, title, kind, e.Priority, e.Status, e.Attempt)
	}
	return w.Flush()
}
