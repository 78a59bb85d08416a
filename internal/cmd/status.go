package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/chartd-org/chartd/internal/config"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/persis/filestate"
	"github.com/chartd-org/chartd/internal/stringutil"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted scheduler state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Quiet load; warnings are for the daemon, not this view.
			ctx := logger.WithLogger(cmd.Context(),
				logger.NewLogger(logger.WithQuiet()))

			cfg, err := config.NewLoader(loaderOptions()...).Load(ctx)
			if err != nil {
				return err
			}
			return printStatus(ctx, cmd, cfg)
		},
	}
}

func printStatus(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	store := filestate.New(cfg.Paths.StateFile, appClock(cfg))
	if !store.Exists() {
		fmt.Fprintln(cmd.OutOrStdout(), "No scheduler state recorded yet.")
		return nil
	}

	snap, schedCfg, err := store.Load(ctx)
	if err != nil {
		return err
	}

	running := color.RedString("stopped")
	if snap.IsRunning {
		running = color.GreenString("running")
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendRow(table.Row{"State file", store.Path()})
	t.AppendRow(table.Row{"Scheduler", running})
	t.AppendRow(table.Row{"Last update", stampOrNever(snap.LastUpdate)})
	t.AppendRow(table.Row{"Next update", stampOrNever(snap.NextUpdate)})
	if schedCfg != nil {
		t.AppendRow(table.Row{"Update interval", fmt.Sprintf("%d day(s)", schedCfg.UpdateDays)})
		t.AppendRow(table.Row{"Fixed update time", schedCfg.FixedUpdateTime})
	}
	if snap.ConsecutiveFailures > 0 {
		t.AppendRow(table.Row{"Consecutive failures",
			color.YellowString("%d", snap.ConsecutiveFailures)})
	}
	if snap.LastError != "" {
		t.AppendRow(table.Row{"Last error", color.RedString(snap.LastError)})
	}
	t.Render()
	return nil
}

func stampOrNever(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return stringutil.FormatTime(*t)
}
