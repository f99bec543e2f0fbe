package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/papapumpkin/pulsar/internal/scoring"
)

// Config holds all runtime configuration for a pulsar process.
// Values are populated from .pulsar.yaml, PULSAR_* env vars, and CLI flags.
type Config struct {
	DBPath        string `mapstructure:"db_path"`
	BoardFile     string `mapstructure:"board_file"`
	TelemetryPath string `mapstructure:"telemetry_path"`

	// Boards restricts the poller to these board IDs. Empty polls every board.
	Boards        []string      `mapstructure:"boards"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	DryRun        bool          `mapstructure:"dry_run"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	WatchBoards   bool          `mapstructure:"watch_boards"`

	WorkerID        string   `mapstructure:"worker_id"`
	WorkerSkills    []string `mapstructure:"worker_skills"`
	DispatchCommand string   `mapstructure:"dispatch_command"`
	ReleaseRetries  int      `mapstructure:"release_retries"`

	// WIPLimits overrides stage limits from the board file, keyed by stage.
	WIPLimits map[string]int `mapstructure:"wip_limits"`
	Weights   scoring.Weights `mapstructure:"weights"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	Verbose   bool   `mapstructure:"verbose"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() (Config, error) {
	w := scoring.DefaultWeights()
	viper.SetDefault("db_path", "pulsar.db")
	viper.SetDefault("board_file", "boards.toml")
	viper.SetDefault("telemetry_path", "")
	viper.SetDefault("boards", []string{})
	viper.SetDefault("poll_interval", 5*time.Second)
	viper.SetDefault("max_concurrent", 4)
	viper.SetDefault("dry_run", false)
	viper.SetDefault("grace_period", 30*time.Second)
	viper.SetDefault("watch_boards", false)
	viper.SetDefault("worker_id", "")
	viper.SetDefault("worker_skills", []string{})
	viper.SetDefault("dispatch_command", "")
	viper.SetDefault("release_retries", 5)
	viper.SetDefault("weights.customer_value", w.CustomerValue)
	viper.SetDefault("weights.unblock_impact", w.UnblockImpact)
	viper.SetDefault("weights.availability", w.Availability)
	viper.SetDefault("weights.learning", w.Learning)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("verbose", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "pulsar-" + uuid.NewString()[:8]
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that viper cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent))
	}
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("grace_period must not be negative, got %s", c.GracePeriod))
	}
	if c.ReleaseRetries < 1 {
		errs = append(errs, fmt.Errorf("release_retries must be at least 1, got %d", c.ReleaseRetries))
	}
	if err := c.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
