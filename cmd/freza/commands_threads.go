package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/freza"
	"github.com/hupe1980/freza/internal/util"
)

const timeLayout = "2006-01-02 15:04"

func buildThreadsCmd(g *globalOptions) *cobra.Command {
	var (
		limit   int
		asJSON  bool
		channel string
	)
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List conversation threads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(func(app *freza.Freza) error {
				threads, err := app.Engine().ListThreads(cmd.Context())
				if err != nil {
					return err
				}
				if channel != "" {
					filtered := threads[:0]
					for _, t := range threads {
						if t.Channel == channel {
							filtered = append(filtered, t)
						}
					}
					threads = filtered
				}
				if limit > 0 && len(threads) > limit {
					threads = threads[:limit]
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), threads)
				}
				if len(threads) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No threads.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "THREAD\tAGENT\tCHANNEL\tMESSAGES\tLAST\tTITLE")
				for _, t := range threads {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						t.ThreadID, t.Agent, t.Channel, t.MessageCount,
						t.LastTimestamp.Local().Format(timeLayout), util.Ellipsize(t.Title, 50))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of threads (0 for all)")
	cmd.Flags().StringVar(&channel, "channel", "", "Only threads of this channel")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func buildThreadCmd(g *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "thread <thread-id>",
		Short: "Show every turn of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(app *freza.Freza) error {
				th, err := app.Engine().GetThread(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), th)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Thread %s (agent=%s, channel=%s)\n", th.ThreadID, th.Agent, th.Channel)
				for i, t := range th.Entries {
					fmt.Fprintf(w, "\n#%d %s %s cost=$%.4f %.1fs\n", i+1, t.CreatedAt.Local().Format(timeLayout), t.Status, t.CostUSD, float64(t.DurationMS)/1000)
					fmt.Fprintf(w, "> %s\n", t.TriggerMessage)
					if t.Response != "" {
						fmt.Fprintln(w, t.Response)
					}
					if t.Error != "" {
						fmt.Fprintf(w, "error: %s\n", t.Error)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func buildStatsCmd(g *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate run, cost and duration totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(func(app *freza.Freza) error {
				stats, err := app.Engine().Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), stats)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Runs:     %d\n", stats.TotalRuns)
				fmt.Fprintf(w, "Cost:     $%.4f\n", stats.TotalCostUSD)
				fmt.Fprintf(w, "Duration: %.1fs\n", stats.TotalDurationS)
				channels := make([]string, 0, len(stats.ChannelCounts))
				for name := range stats.ChannelCounts {
					channels = append(channels, name)
				}
				sort.Strings(channels)
				for _, name := range channels {
					fmt.Fprintf(w, "  %s: %d\n", name, stats.ChannelCounts[name])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
