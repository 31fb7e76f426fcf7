package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/freza"
)

func buildCleanupCmd(g *globalOptions) *cobra.Command {
	var (
		url   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove short-term state of instances that are no longer running",
		Long: "Remove state/short_term files left by finished or crashed instances. " +
			"A running server prunes these itself, so cleanup refuses to run while one answers unless --force is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if url == "" {
				url = serverURL(cfg)
			}
			if !force {
				ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
				defer cancel()
				var pong map[string]any
				if newAPIClient(url, cfg.HTTP.Token).getJSON(ctx, "/api/ping", &pong) == nil {
					return fmt.Errorf("a server is running at %s and prunes short-term state itself (use --force to prune anyway)", url)
				}
			}
			return g.withApp(func(app *freza.Freza) error {
				n := app.Engine().PruneShortTerm()
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d short-term state file(s).\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Server URL to check (default: derived from http.host and http.port)")
	cmd.Flags().BoolVar(&force, "force", false, "Prune even when a server is running")
	return cmd
}
