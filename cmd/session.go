package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/claim"
	"github.com/papapumpkin/pulsar/internal/config"
	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// session bundles what most subcommands need: resolved configuration, the
// open item store, the telemetry stream and an operator logger.
type session struct {
	cfg     config.Config
	store   *board.SQLiteStore
	emitter *telemetry.Emitter
	logger  *slog.Logger
}

// openSession loads configuration and opens the store. Callers must Close it.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return nil, err
	}

	store, err := board.NewSQLiteStore(cmd.Context(), cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var emitter *telemetry.Emitter
	if cfg.TelemetryPath != "" {
		emitter, err = telemetry.NewEmitter(cfg.TelemetryPath)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	logger.Debug("session opened", "db", cfg.DBPath, "telemetry", cfg.TelemetryPath, "worker", cfg.WorkerID)
	return &session{cfg: cfg, store: store, emitter: emitter, logger: logger}, nil
}

func (s *session) Close() {
	if err := s.emitter.Close(); err != nil {
		s.logger.Warn("closing telemetry", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
}

// coordinator builds a claim coordinator over the session store.
func (s *session) coordinator() *claim.Coordinator {
	return claim.New(s.store,
		claim.WithWeights(s.cfg.Weights),
		claim.WithEmitter(s.emitter),
		claim.WithLogger(s.logger),
		claim.WithReleaseRetries(s.cfg.ReleaseRetries),
	)
}

// worker resolves the worker identity from flags, falling back to config.
func (s *session) worker(cmd *cobra.Command) claim.Worker {
	w := claim.Worker{ID: s.cfg.WorkerID, Skills: s.cfg.WorkerSkills}
	if f := cmd.Flags().Lookup("worker"); f != nil && f.Changed {
		w.ID = f.Value.String()
	}
	if skills, err := cmd.Flags().GetStringSlice("skill"); err == nil && cmd.Flags().Changed("skill") {
		w.Skills = skills
	}
	return w
}

// boardIDs returns args if given, then the configured boards, then every
// board in the store.
func (s *session) boardIDs(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(s.cfg.Boards) > 0 {
		return s.cfg.Boards, nil
	}
	boards, err := s.store.Boards(cmd.Context())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(boards))
	for _, b := range boards {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// newLogger builds the operator logger on w. --verbose forces debug level.
func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("config: log_level: %w", err)
	}
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("config: log_format must be text or json, got %q", cfg.LogFormat)
	}
}

