package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shiftover/shiftover-server/internal/domain"
)

var cleanupFlags struct {
	dryRun    bool
	force     bool
	retention int
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old releases beyond the retention count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		retention := cleanupFlags.retention
		if retention == 0 {
			retention = a.cfg.RetentionCount
		}

		report, err := a.lifecycle.Cleanup(cmd.Context(), retention, cleanupFlags.dryRun, cleanupFlags.force)
		if err != nil {
			return err
		}

		if report.DryRun {
			if len(report.Candidates) == 0 {
				fmt.Println("nothing to clean up")
				return nil
			}
			fmt.Println("would remove:")
			for _, r := range report.Candidates {
				fmt.Printf("  %s (%s)\n", r.Version, r.Status)
			}
			return nil
		}

		fmt.Printf("removed %d release(s)\n", len(report.Removed))
		for _, v := range report.Removed {
			fmt.Printf("  %s\n", v)
		}

		disk := a.lifecycle.CheckDiskSpace(a.cfg.DiskThresholdPercent)
		if disk.State != domain.DiskOK {
			fmt.Printf("disk %s: %s\n", disk.State, disk.Detail)
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupFlags.dryRun, "dry-run", false, "Report candidates without removing anything")
	cleanupCmd.Flags().BoolVar(&cleanupFlags.force, "force", false, "Remove permanent releases too")
	cleanupCmd.Flags().IntVar(&cleanupFlags.retention, "retention", 0, "Override the configured retention count")

	rootCmd.AddCommand(cleanupCmd)
}
