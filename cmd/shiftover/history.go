package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the deployment history, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.service.HistoryRecords(cmd.Context())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no deployments yet")
			return nil
		}
		for _, r := range records {
			line := fmt.Sprintf("%s  %s", r.DeployedAt.Format(time.RFC3339), r.Version)
			if r.PreviousVersion != "" {
				line += fmt.Sprintf("  (from %s)", r.PreviousVersion)
			}
			if r.DeployedBy != "" {
				line += fmt.Sprintf("  by %s", r.DeployedBy)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "List deployment records and their states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		deps, err := a.service.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(deps) == 0 {
			fmt.Println("no deployments yet")
			return nil
		}
		for _, d := range deps {
			fmt.Printf("%s  %s  %s  %s\n",
				d.ID, d.StartedAt.Format(time.RFC3339), d.TargetVersion, d.State)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(deploymentsCmd)
}
