package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shiftover/shiftover-server/internal/config"
	"github.com/shiftover/shiftover-server/internal/domain"
)

var rootFlags struct {
	config   string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:           "shiftover",
	Short:         "Deploy releases with verified health and automatic rollback",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(rootFlags.config)
	if err != nil {
		return cfg, err
	}
	if rootFlags.logLevel != "" {
		cfg.LogLevel = rootFlags.logLevel
	}
	return cfg, nil
}

func printFailure(res domain.DeployResult) {
	f := res.Failure
	if f == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "failure (%s): %s\n", f.Kind, f.Message)
	for _, s := range f.SuggestedActions {
		fmt.Fprintf(os.Stderr, "  - %s\n", s)
	}
	if res.Rollback != "" {
		fmt.Fprintf(os.Stderr, "rollback: %s\n", res.Rollback)
	}
}

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}
