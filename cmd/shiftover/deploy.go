package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shiftover/shiftover-server/internal/application"
	"github.com/shiftover/shiftover-server/internal/domain"
)

var deployFlags struct {
	backup           bool
	skipHealthChecks bool
	noRollback       bool
	strategy         string
	deployedBy       string
	monitor          bool
}

var deployCmd = &cobra.Command{
	Use:   "deploy <version>",
	Short: "Deploy a release version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		prev := ""
		if cur, err := a.releases.Current(ctx); err == nil {
			prev = cur.Version
		}

		opts := a.cfg.DeployOptions()
		if deployFlags.backup {
			opts.BackupRequired = true
		}
		if deployFlags.skipHealthChecks {
			opts.SkipHealthChecks = true
		}
		if deployFlags.noRollback {
			opts.RollbackOnFailure = false
		}
		if deployFlags.strategy != "" {
			opts.RollbackStrategy = domain.RollbackStrategy(deployFlags.strategy)
		}
		if deployFlags.deployedBy != "" {
			opts.DeployedBy = deployFlags.deployedBy
		}

		result, err := a.service.Deploy(ctx, application.DeployInput{Version: args[0], Options: opts})
		if err != nil {
			return err
		}
		if result.State != domain.DeploymentStateCompleted {
			printFailure(result)
			return fmt.Errorf("deployment %s %s", result.DeploymentID, result.State)
		}
		fmt.Printf("deployed %s (deployment %s)\n", result.Version, result.DeploymentID)

		if !deployFlags.monitor {
			return nil
		}
		return runMonitor(ctx, a, application.MonitorConfig{
			FromVersion: prev,
			ToVersion:   result.Version,
			Timeout:     a.cfg.Monitor.Timeout.Std(),
			Interval:    a.cfg.Monitor.Interval.Std(),
			MaxFailures: a.cfg.Monitor.MaxFailures,
			Strategy:    opts.RollbackStrategy,
		})
	},
}

// runMonitor starts a monitoring session and blocks until the window
// elapses, a rollback fires, or ctx is interrupted.
func runMonitor(ctx context.Context, a *app, cfg application.MonitorConfig) error {
	if err := a.monitor.Start(ctx, cfg); err != nil {
		return err
	}
	fmt.Printf("monitoring %s for %s\n", cfg.ToVersion, cfg.Timeout)

	if err := a.monitor.Wait(ctx); err != nil {
		a.monitor.Stop()
		fmt.Println("monitoring stopped")
		return nil
	}
	cur, err := a.releases.Current(ctx)
	if err != nil {
		return err
	}
	if cur.Version != cfg.ToVersion {
		return fmt.Errorf("monitor rolled back to %s", cur.Version)
	}
	fmt.Printf("%s healthy after %s\n", cfg.ToVersion, cfg.Timeout)
	return nil
}

func init() {
	deployCmd.Flags().BoolVar(&deployFlags.backup, "backup", false, "Fail the deployment if the pre-migration backup cannot be created")
	deployCmd.Flags().BoolVar(&deployFlags.skipHealthChecks, "skip-health-checks", false, "Skip post-switch health verification")
	deployCmd.Flags().BoolVar(&deployFlags.noRollback, "no-rollback", false, "Leave state as-is on failure instead of rolling back")
	deployCmd.Flags().StringVar(&deployFlags.strategy, "strategy", "", "Rollback strategy (migration-first, backup-only, skip)")
	deployCmd.Flags().StringVar(&deployFlags.deployedBy, "deployed-by", "", "Operator recorded in the deployment history")
	deployCmd.Flags().BoolVar(&deployFlags.monitor, "monitor", false, "Watch the new release and roll back if it turns unhealthy")

	rootCmd.AddCommand(deployCmd)
}
