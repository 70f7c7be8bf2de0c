// Package cmd wires the orchestrator's command line.
package cmd

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"music-orchestrator/internal/config"
	"music-orchestrator/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "music-orchestrator",
	Short: "Per-session music playback orchestrator",
	Long: `music-orchestrator keeps a queue per session, drives a playback backend
and serves the state of every session over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml or ~/.config/music-orchestrator/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
