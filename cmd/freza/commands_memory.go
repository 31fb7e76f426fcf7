package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/freza"
	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/memory"
)

func buildMemoryCmd(g *globalOptions) *cobra.Command {
	var (
		search string
		limit  int
		add    string
	)
	cmd := &cobra.Command{
		Use:   "memory [agent]",
		Short: "Show, search or append to an agent's long-term memory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := core.DefaultAgent
			if len(args) == 1 {
				agent = args[0]
			}
			if err := core.ValidateName(agent); err != nil {
				return err
			}
			return g.withApp(func(app *freza.Freza) error {
				if _, ok := app.Catalog().Agent(agent); !ok {
					return core.NewNotFound("agent", agent)
				}
				if add != "" {
					return app.Memory().AppendLongTerm(agent, add)
				}
				content, err := app.Memory().ReadLongTerm(agent)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if search == "" {
					_, err := fmt.Fprint(w, content)
					return err
				}
				matches := memory.SearchLines(content, search, limit)
				if len(matches) == 0 {
					fmt.Fprintln(w, "No matches.")
				}
				for _, line := range matches {
					fmt.Fprintln(w, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "Only print lines containing this text")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of matching lines")
	cmd.Flags().StringVar(&add, "add", "", "Append a line to the memory instead of printing it")
	return cmd
}
