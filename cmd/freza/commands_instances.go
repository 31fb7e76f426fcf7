package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/freza/core"
)

func buildInstancesCmd(g *globalOptions) *cobra.Command {
	var (
		url    string
		token  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List the active instances of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" || token == "" {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				if url == "" {
					url = serverURL(cfg)
				}
				if token == "" {
					token = cfg.HTTP.Token
				}
			}

			var instances []core.Instance
			if err := newAPIClient(url, token).getJSON(cmd.Context(), "/api/instances", &instances); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), instances)
			}
			if len(instances) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active instances.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTANCE\tAGENT\tMODE\tSTATUS\tAGE\tTASK")
			for _, inst := range instances {
				age := time.Since(inst.StartedAt).Round(time.Second)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", inst.InstanceID, inst.Agent, inst.Mode, inst.Status, age, orDash(inst.CurrentTask))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Server URL (default: derived from http.host and http.port)")
	cmd.Flags().StringVar(&token, "token", "", "API token (default: http.token)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
