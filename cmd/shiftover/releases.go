package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "Manage installed releases",
}

var releasesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed releases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		releases, err := a.releases.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(releases) == 0 {
			fmt.Println("no releases installed")
			return nil
		}
		current := ""
		if cur, err := a.releases.Current(cmd.Context()); err == nil {
			current = cur.Version
		}
		for _, r := range releases {
			marker := " "
			if r.Version == current {
				marker = "*"
			}
			fmt.Printf("%s %-12s %s\n", marker, r.Version, r.Status)
		}
		return nil
	},
}

var releasesInstallCmd = &cobra.Command{
	Use:   "install <version>",
	Short: "Install a release so it can be deployed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.releases.Install(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("installed %s\n", args[0])
		return nil
	},
}

var releasesRemoveFlags struct {
	force bool
}

var releasesRemoveCmd = &cobra.Command{
	Use:   "remove <version>",
	Short: "Remove an installed release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.lifecycle.Remove(cmd.Context(), args[0], releasesRemoveFlags.force); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

func init() {
	releasesRemoveCmd.Flags().BoolVar(&releasesRemoveFlags.force, "force", false, "Remove even a permanent release")

	releasesCmd.AddCommand(releasesListCmd)
	releasesCmd.AddCommand(releasesInstallCmd)
	releasesCmd.AddCommand(releasesRemoveCmd)
	rootCmd.AddCommand(releasesCmd)
}
