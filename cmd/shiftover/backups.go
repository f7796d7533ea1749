package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List database backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.backups.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no backups")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s  %-12s %8d bytes  %s\n",
				info.CreatedAt.Format(time.RFC3339), info.Version, info.Size, info.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupsCmd)
}
