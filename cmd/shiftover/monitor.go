package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiftover/shiftover-server/internal/application"
	"github.com/shiftover/shiftover-server/internal/domain"
)

var monitorFlags struct {
	from        string
	timeout     time.Duration
	interval    time.Duration
	maxFailures int
	strategy    string
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the current release and roll back if it turns unhealthy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cur, err := a.releases.Current(ctx)
		if err != nil {
			return err
		}

		cfg := application.MonitorConfig{
			FromVersion: monitorFlags.from,
			ToVersion:   cur.Version,
			Timeout:     a.cfg.Monitor.Timeout.Std(),
			Interval:    a.cfg.Monitor.Interval.Std(),
			MaxFailures: a.cfg.Monitor.MaxFailures,
			Strategy:    domain.RollbackStrategy(monitorFlags.strategy),
		}
		if monitorFlags.timeout > 0 {
			cfg.Timeout = monitorFlags.timeout
		}
		if monitorFlags.interval > 0 {
			cfg.Interval = monitorFlags.interval
		}
		if monitorFlags.maxFailures > 0 {
			cfg.MaxFailures = monitorFlags.maxFailures
		}

		return runMonitor(ctx, a, cfg)
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorFlags.from, "from", "", "Version to roll back to (defaults to the previous release in history)")
	monitorCmd.Flags().DurationVar(&monitorFlags.timeout, "timeout", 0, "Monitoring window")
	monitorCmd.Flags().DurationVar(&monitorFlags.interval, "interval", 0, "Probe interval")
	monitorCmd.Flags().IntVar(&monitorFlags.maxFailures, "max-failures", 0, "Consecutive failures before rollback")
	monitorCmd.Flags().StringVar(&monitorFlags.strategy, "strategy", "", "Rollback strategy (migration-first, backup-only, skip)")

	rootCmd.AddCommand(monitorCmd)
}
