package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shiftover/shiftover-server/internal/application"
	"github.com/shiftover/shiftover-server/internal/domain"
)

var rollbackFlags struct {
	strategy string
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [version]",
	Short: "Roll back to a previous release",
	Long:  "Roll back to the given version, or to the previous release in the deployment history when no version is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		in := application.RollbackInput{Strategy: domain.RollbackStrategy(rollbackFlags.strategy)}
		if len(args) == 1 {
			in.TargetVersion = args[0]
		}
		if err := a.service.RollbackTo(cmd.Context(), in); err != nil {
			return err
		}

		cur, err := a.releases.Current(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("rolled back to %s\n", cur.Version)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <deployment-id>",
	Short: "Cancel an in-flight deployment and roll it back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.service.Cancel(cmd.Context(), domain.DeploymentID(args[0])); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackFlags.strategy, "strategy", "", "Rollback strategy (migration-first, backup-only, skip)")

	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(cancelCmd)
}
