package cmd

import (
	"github.com/spf13/cobra"

	"music-orchestrator/pkg/deps"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that yt-dlp and ffmpeg are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return deps.NewChecker(requiredBinaries()...).CheckAndPrint(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// requiredBinaries lists what the configured backend shells out to.
func requiredBinaries() []string {
	if cfg != nil && cfg.Backend.Kind == "simulated" {
		return []string{"yt-dlp"}
	}
	return []string{"yt-dlp", "ffmpeg"}
}
