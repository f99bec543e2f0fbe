package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/dispatch"
	"github.com/papapumpkin/pulsar/internal/poller"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Claim and dispatch ready work on an interval until interrupted",
	Long: `Runs the autonomous poller. Every poll_interval it claims up to
max_concurrent items across the polled boards and hands each one to the
dispatch command. A failed dispatch releases the claim. On SIGINT or SIGTERM
no new cycles start and in-flight work gets grace_period to finish.`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

func init() {
	f := pollCmd.Flags()
	f.StringSlice("board", nil, "board to poll (repeatable, default all)")
	f.Duration("interval", 0, "poll interval (default poll_interval)")
	f.Int("max-concurrent", 0, "maximum in-flight dispatches (default max_concurrent)")
	f.Bool("dry-run", false, "rank candidates without claiming or dispatching")
	f.Duration("grace", 0, "shutdown grace period (default grace_period)")
	f.Bool("watch", false, "re-apply the board definition file when it changes")
	f.String("dispatch", "", "command to run per claimed item (default dispatch_command)")
	f.String("worker", "", "worker ID (default worker_id from config)")
	f.StringSlice("skill", nil, "worker skill tag (repeatable, default worker_skills)")

	_ = viper.BindPFlag("boards", f.Lookup("board"))
	_ = viper.BindPFlag("poll_interval", f.Lookup("interval"))
	_ = viper.BindPFlag("max_concurrent", f.Lookup("max-concurrent"))
	_ = viper.BindPFlag("dry_run", f.Lookup("dry-run"))
	_ = viper.BindPFlag("grace_period", f.Lookup("grace"))
	_ = viper.BindPFlag("watch_boards", f.Lookup("watch"))
	_ = viper.BindPFlag("dispatch_command", f.Lookup("dispatch"))

	rootCmd.AddCommand(pollCmd)
}

// buildDispatcher assembles the dispatch chain: the telemetry notification
// always runs, followed by the configured command if any.
func (s *session) buildDispatcher(worker string) (dispatch.Dispatcher, error) {
	chain := dispatch.Multi{&dispatch.NotifyHook{Emitter: s.emitter, Worker: worker}}
	if s.cfg.DispatchCommand == "" {
		return chain, nil
	}
	hook, err := dispatch.NewCommandHook(s.cfg.DispatchCommand)
	if err != nil {
		return nil, err
	}
	if err := hook.Validate(); err != nil {
		return nil, err
	}
	return append(chain, hook), nil
}

func runPoll(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	printer := printerFor(cmd)
	w := s.worker(cmd)
	cfg := poller.Config{
		Boards:        s.cfg.Boards,
		Interval:      s.cfg.PollInterval,
		MaxConcurrent: s.cfg.MaxConcurrent,
		DryRun:        s.cfg.DryRun,
		GracePeriod:   s.cfg.GracePeriod,
		Worker:        w,
	}

	d, err := s.buildDispatcher(w.ID)
	if err != nil {
		return err
	}
	if s.cfg.DispatchCommand == "" && !cfg.DryRun {
		printer.Info("no dispatch_command configured; claimed items are only recorded as telemetry")
	}

	opts := []poller.Option{poller.WithLogger(s.logger), poller.WithEmitter(s.emitter)}
	if s.cfg.WatchBoards {
		watcher, err := board.NewManifestWatcher(s.cfg.BoardFile)
		if err != nil {
			return fmt.Errorf("watch %s: %w", s.cfg.BoardFile, err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("watch %s: %w", s.cfg.BoardFile, err)
		}
		defer watcher.Stop()
		opts = append(opts, poller.WithManifestUpdates(watcher.Changes, s.cfg.WIPLimits))
		s.logger.Info("watching board definitions", "path", watcher.Path)
	}

	p, err := poller.New(s.store, s.coordinator(), d, cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "claiming"
	if cfg.DryRun {
		mode = "dry run"
	}
	printer.Info(fmt.Sprintf("polling as %s every %s (%s, max %d in flight)", w.ID, cfg.Interval, mode, cfg.MaxConcurrent))
	if err := p.Run(ctx); err != nil {
		return err
	}
	printer.Info("poller stopped")
	return nil
}
