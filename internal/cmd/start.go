package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/chartd-org/chartd/internal/backoff"
	"github.com/chartd-org/chartd/internal/build"
	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/config"
	"github.com/chartd-org/chartd/internal/discord"
	"github.com/chartd-org/chartd/internal/fileutil"
	"github.com/chartd-org/chartd/internal/health"
	"github.com/chartd-org/chartd/internal/janitor"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/persis/filestate"
	"github.com/chartd-org/chartd/internal/resource"
	"github.com/chartd-org/chartd/internal/scheduler"
	"github.com/chartd-org/chartd/internal/supervisor"
	"github.com/chartd-org/chartd/internal/tautulli"
	"github.com/chartd-org/chartd/internal/telemetry"
	"github.com/chartd-org/chartd/internal/updater"
	"github.com/chartd-org/chartd/internal/upgrade"
)

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the daemon",
		Long:  "Start the scheduler, the Discord bot and the health server, and run until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			quiet, _ := cmd.Flags().GetBool("quiet")
			ctx, stop := signal.NotifyContext(cmd.Context(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStart(ctx, quiet)
		},
	}
	cmd.Flags().BoolP("quiet", "q", false, "suppress log output to stderr")
	return cmd
}

// lateStats forwards my_stats rendering to an orchestrator that is
// constructed after the bot, breaking the poster/renderer cycle.
type lateStats struct {
	orch **updater.Orchestrator
}

func (l lateStats) RunUserGraphs(ctx context.Context, userID int) ([]updater.Artifact, string, error) {
	return (*l.orch).RunUserGraphs(ctx, userID)
}

func runStart(ctx context.Context, quiet bool) error {
	loader := config.NewLoader(loaderOptions()...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, closeLog, err := loggerContext(ctx, cfg, quiet)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logger.FromContext(ctx)
	for _, w := range cfg.Warnings {
		log.Warn("config warning", tag.Reason(w))
	}

	if err := fileutil.EnsureDir(cfg.Paths.DataDir); err != nil {
		return err
	}
	lock := flock.New(cfg.Paths.LockFile)
	held, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", cfg.Paths.LockFile, err)
	}
	if !held {
		return fmt.Errorf("another instance holds %s", cfg.Paths.LockFile)
	}
	defer func() { _ = lock.Unlock() }()

	log.Info("starting", tag.Version(build.Version), tag.Path(cfg.Paths.DataDir))

	clk := appClock(cfg)
	store := config.NewStore(cfg)

	sup := supervisor.New(clk)
	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer sup.Stop(ctx)

	stateStore := filestate.New(cfg.Paths.StateFile, clk)

	var orch *updater.Orchestrator
	sched := scheduler.New(clk, stateStore, sup,
		func(ctx context.Context) error { return orch.Run(ctx) },
		scheduler.Options{
			Policy:          backoff.DefaultPolicy(),
			RecoveryEnabled: cfg.Schedule.Recovery,
			ReplayMissed:    cfg.Schedule.Recovery,
		})

	tcli := tautulli.New(cfg.Tautulli.URL, cfg.Tautulli.APIKey,
		tautulli.WithClock(clk))
	if err := tcli.Ping(ctx); err != nil {
		log.Warn("stats server unreachable at startup", tag.Error(err))
	}

	bot, err := discord.New(store, sched, lateStats{orch: &orch}, tcli, clk)
	if err != nil {
		return err
	}
	orch = updater.New(store.Snapshot, tcli, bot.Poster(), sched, clk)

	collector := telemetry.New(clk, sched, sup)
	orch.SetObserver(collector)

	monitor, err := resource.NewMonitor(clk)
	if err != nil {
		return err
	}
	if err := monitor.Register(sup); err != nil {
		return err
	}
	if err := janitor.New(store.Snapshot, clk).Register(sup); err != nil {
		return err
	}

	schedCfg, err := scheduler.NewSchedulingConfig(cfg.SchedulingValues())
	if err != nil {
		return err
	}
	if err := sched.Start(ctx, schedCfg); err != nil {
		return err
	}
	defer sched.Stop(ctx)

	// Re-derive the schedule when a hot edit or a file reload touches it.
	store.OnChange(func(ch config.Change) {
		if ch.Key == "language" {
			sched.Refresh()
			return
		}
		if !ch.ScheduleAffecting {
			return
		}
		next, err := scheduler.NewSchedulingConfig(store.Snapshot().SchedulingValues())
		if err != nil {
			log.Warn("ignoring schedule change", tag.Key(ch.Key), tag.Error(err))
			return
		}
		sched.SetConfig(ctx, next)
	})

	if err := bot.Start(ctx); err != nil {
		return err
	}
	defer bot.Stop(ctx)

	healthSrv := health.New(cfg.Health.Port, sup, collector.Registry(), clk)
	if err := healthSrv.Start(ctx); err != nil {
		return err
	}
	defer healthSrv.Stop(ctx)

	watcher, err := config.NewWatcher(store, loader)
	if err != nil {
		log.Warn("config file watching disabled", tag.Error(err))
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	if cfg.UpdateCheck {
		go upgrade.New(cfg.Paths.DataDir, clk).Check(ctx)
	}

	log.Info("started", tag.Port(cfg.Health.Port))
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func appClock(cfg *config.Config) clock.Clock {
	return clock.System(cfg.Location)
}

// loggerContext swaps the bootstrap logger for one built from the
// configuration, optionally fanning out to a log file.
func loggerContext(ctx context.Context, cfg *config.Config, quiet bool) (context.Context, func(), error) {
	opts := []logger.Option{logger.WithFormat(cfg.Logging.Format)}
	if cfg.Logging.Level == "debug" {
		opts = append(opts, logger.WithDebug())
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}

	closeLog := func() {}
	if cfg.Logging.File != "" {
		path := fileutil.ResolvePath(cfg.Logging.File)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY|os.O_SYNC, 0640)
		if err != nil {
			return ctx, nil, fmt.Errorf("open log file: %w", err)
		}
		opts = append(opts, logger.WithWriter(f))
		closeLog = func() { _ = f.Close() }
	}

	return logger.WithLogger(ctx, logger.NewLogger(opts...)), closeLog, nil
}
