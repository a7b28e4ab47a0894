package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Agent         AgentConfig         `toml:"agent"`
	Retry         RetryConfig         `toml:"retry"`
	Watch         WatchConfig         `toml:"watch"`
	Validation    ValidationConfig    `toml:"validation"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	TasksDir        string `toml:"tasks_dir"`
	ResultsDir      string `toml:"results_dir"`
	LogsDir         string `toml:"logs_dir"`
	DatabasePath    string `toml:"database_path"`
	MaxWorkers      int    `toml:"max_workers"`
	MaxRequestBytes int64  `toml:"max_request_bytes"`
	LeaseGraceSecs  int    `toml:"lease_grace_seconds"`
}

// LeaseGrace returns how long a lease may sit idle before reclaim
func (g GeneralConfig) LeaseGrace() time.Duration {
	return time.Duration(g.LeaseGraceSecs) * time.Second
}

// AgentConfig holds settings for the external execution agent CLI
type AgentConfig struct {
	Command     string `toml:"command"`
	BaseCwd     string `toml:"base_cwd"`
	AllowedRoot string `toml:"allowed_root"`
	TimeoutSecs int    `toml:"timeout_seconds"`
	MaxTurns    int    `toml:"max_turns"`
}

// Timeout returns the per-attempt wall-clock timeout
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// RetryConfig holds backoff settings for transient failures
type RetryConfig struct {
	MaxAttempts  int     `toml:"max_attempts"`
	BaseDelaySec float64 `toml:"base_delay_seconds"`
	GrowthFactor float64 `toml:"growth_factor"`
	MaxDelaySec  float64 `toml:"max_delay_seconds"`
	JitterFactor float64 `toml:"jitter_factor"`
}

// WatchConfig holds file watcher settings
type WatchConfig struct {
	QuietWindowMS int    `toml:"quiet_window_ms"`
	Pattern       string `toml:"pattern"`
}

// QuietWindow returns the debounce quiet window
func (w WatchConfig) QuietWindow() time.Duration {
	return time.Duration(w.QuietWindowMS) * time.Millisecond
}

// ValidationConfig holds validation thresholds, with per-kind overrides
type ValidationConfig struct {
	SimilarityThreshold float64                   `toml:"similarity_threshold"`
	EntropyThreshold    float64                   `toml:"entropy_threshold"`
	EscalateInvalid     bool                      `toml:"escalate_invalid"`
	Kinds               map[string]KindThresholds `toml:"kinds"`
}

// KindThresholds overrides thresholds for one task kind
type KindThresholds struct {
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	EntropyThreshold    float64 `toml:"entropy_threshold"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web status server settings
type WebConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".task-orchestrator")
	return &Config{
		General: GeneralConfig{
			TasksDir:        filepath.Join(base, "tasks"),
			ResultsDir:      filepath.Join(base, "results"),
			LogsDir:         filepath.Join(base, "logs"),
			DatabasePath:    filepath.Join(base, "queue.db"),
			MaxWorkers:      2,
			MaxRequestBytes: 256 * 1024,
			LeaseGraceSecs:  900,
		},
		Agent: AgentConfig{
			Command:     "claude",
			TimeoutSecs: 600,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			BaseDelaySec: 2,
			GrowthFactor: 2,
			MaxDelaySec:  300,
			JitterFactor: 0.25,
		},
		Watch: WatchConfig{
			QuietWindowMS: 400,
			Pattern:       "*.task.md",
		},
		Validation: ValidationConfig{
			SimilarityThreshold: 0.15,
			EntropyThreshold:    0.3,
			Kinds: map[string]KindThresholds{
				"summarize": {SimilarityThreshold: 0.05},
			},
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8090,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.TasksDir = ExpandPath(cfg.General.TasksDir)
	cfg.General.ResultsDir = ExpandPath(cfg.General.ResultsDir)
	cfg.General.LogsDir = ExpandPath(cfg.General.LogsDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Agent.BaseCwd = ExpandPath(cfg.Agent.BaseCwd)
	cfg.Agent.AllowedRoot = ExpandPath(cfg.Agent.AllowedRoot)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks config invariants after load
func (c *Config) Validate() error {
	if c.General.MaxWorkers < 1 {
		return fmt.Errorf("general.max_workers must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.GrowthFactor < 1 {
		return fmt.Errorf("retry.growth_factor must be at least 1")
	}
	if c.Agent.TimeoutSecs <= 0 {
		return fmt.Errorf("agent.timeout_seconds must be positive")
	}
	// A lease must outlive any attempt, or the minutely reclaim would
	// re-queue tasks that are still executing.
	if c.General.LeaseGraceSecs <= c.Agent.TimeoutSecs {
		return fmt.Errorf("general.lease_grace_seconds (%d) must exceed agent.timeout_seconds (%d)",
			c.General.LeaseGraceSecs, c.Agent.TimeoutSecs)
	}
	return nil
}

// Thresholds returns the effective thresholds for a task kind
func (c *ValidationConfig) Thresholds(kind string) (similarity, entropy float64) {
	similarity, entropy = c.SimilarityThreshold, c.EntropyThreshold
	if kt, ok := c.Kinds[kind]; ok {
		if kt.SimilarityThreshold > 0 {
			similarity = kt.SimilarityThreshold
		}
		if kt.EntropyThreshold > 0 {
			entropy = kt.EntropyThreshold
		}
	}
	return similarity, entropy
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "task-orchestrator", "config.toml")
}
