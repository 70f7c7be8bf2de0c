package cmd

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"music-orchestrator/internal/orchestrator"
	"music-orchestrator/internal/platform"
	"music-orchestrator/internal/track"
)

var (
	resolvePlatform string
	resolveStream   bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <query or url>",
	Short: "Resolve a query to a track the way play does",
	Example: `  music-orchestrator resolve "never gonna give you up"
  music-orchestrator resolve -p youtube --stream https://www.youtube.com/watch?v=dQw4w9WgXcQ`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources := newSources()
		query := orchestrator.NormalizeQuery(args[0])

		var (
			t   *track.Track
			err error
		)
		if resolvePlatform != "" {
			src, ok := sources.ByName(resolvePlatform)
			if !ok {
				return errors.Newf("unknown platform %q, available: %v", resolvePlatform, sources.Platforms())
			}
			t, err = src.Resolve(cmd.Context(), query)
			if t != nil {
				t.Source = src.Name()
			}
		} else {
			t, err = sources.Resolve(cmd.Context(), query)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:       %s\n", t.Identifier)
		fmt.Fprintf(out, "title:    %s\n", t.Title)
		fmt.Fprintf(out, "author:   %s\n", t.Author)
		fmt.Fprintf(out, "length:   %s\n", t.Length)
		fmt.Fprintf(out, "uri:      %s\n", t.URI)
		fmt.Fprintf(out, "platform: %s\n", t.Source)

		if !resolveStream {
			return nil
		}
		url, err := sources.StreamURL(cmd.Context(), t)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "stream:   %s\n", url)
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVarP(&resolvePlatform, "platform", "p", "", "platform name (default: detect from query)")
	resolveCmd.Flags().BoolVar(&resolveStream, "stream", false, "also extract the direct audio URL")
	rootCmd.AddCommand(resolveCmd)
}

func newSources() *platform.Registry {
	return platform.NewRegistry(newYouTube())
}

var _ orchestrator.Resolver = (*platform.Registry)(nil)
