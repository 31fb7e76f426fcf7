package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/freza"
	"github.com/hupe1980/freza/catalog"
	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/scheduler"
)

func buildAgentsCmd(g *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(func(app *freza.Freza) error {
				agents := app.Catalog().Agents()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), agents)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tRUNTIME\tMODEL\tREFLECT\tDESCRIPTION")
				for _, a := range agents {
					runtime := string(a.Runtime)
					if a.InvokeFile != "" {
						runtime = string(core.RuntimeScript)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Name, orDash(runtime), orDash(a.Model), orDash(a.ReflectSchedule), a.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func buildChannelsCmd(g *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List registered channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(func(app *freza.Freza) error {
				channels := app.Catalog().Channels()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), channels)
				}
				if len(channels) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No channels.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tDEFAULT AGENT\tDESCRIPTION")
				for _, c := range channels {
					agent := c.DefaultAgent
					if agent == "" {
						agent = core.DefaultAgent
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, agent, c.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func buildRegisterAgentCmd(g *globalOptions) *cobra.Command {
	var (
		systemPrompt    string
		runtime         string
		model           string
		maxTurns        int
		reflectSchedule string
		reflectPrompt   string
		format          string
	)
	cmd := &cobra.Command{
		Use:   "register-agent <name> <description>",
		Short: "Register or update an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := catalog.ParseFormat(format)
			if err != nil {
				return err
			}
			prompt, err := readPromptArg(systemPrompt)
			if err != nil {
				return err
			}
			if reflectSchedule != "" {
				if err := scheduler.ValidateSchedule(reflectSchedule); err != nil {
					return err
				}
			}
			def := core.AgentDefinition{
				Name:            args[0],
				Description:     args[1],
				SystemPrompt:    prompt,
				Runtime:         core.Runtime(runtime),
				Model:           model,
				MaxTurns:        maxTurns,
				ReflectSchedule: reflectSchedule,
				ReflectPrompt:   reflectPrompt,
			}
			return g.withApp(func(app *freza.Freza) error {
				if err := app.Catalog().SaveAgent(def, f); err != nil {
					return err
				}
				if err := app.Memory().InitLongTerm(def.Name, def.Description); err != nil {
					return err
				}
				layout := app.Config().Layout()
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Agent '%s' registered.\n", def.Name)
				fmt.Fprintf(w, "  Directory: %s\n", layout.AgentDir(def.Name))
				fmt.Fprintf(w, "  Memory:    %s\n", layout.MemoryFile(def.Name))
				if prompt != "" {
					fmt.Fprintf(w, "  Custom system prompt: %d chars\n", len(prompt))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Custom system prompt, or @file to read it from a file")
	cmd.Flags().StringVar(&runtime, "runtime", "", "Runtime: cli, script, anthropic or openai (default: cli)")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Max turns override")
	cmd.Flags().StringVar(&reflectSchedule, "reflect-schedule", "", "Cron schedule for reflect runs, e.g. \"0 */6 * * *\" or @daily")
	cmd.Flags().StringVar(&reflectPrompt, "reflect-prompt", "", "Prompt used for reflect runs")
	cmd.Flags().StringVar(&format, "format", "yaml", "Definition file format: yaml, json or toml")
	return cmd
}

func buildRegisterChannelCmd(g *globalOptions) *cobra.Command {
	var (
		systemPrompt string
		defaultAgent string
		format       string
	)
	cmd := &cobra.Command{
		Use:   "register-channel <name> <description>",
		Short: "Register or update a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := catalog.ParseFormat(format)
			if err != nil {
				return err
			}
			prompt, err := readPromptArg(systemPrompt)
			if err != nil {
				return err
			}
			def := core.ChannelDefinition{
				Name:         args[0],
				Description:  args[1],
				DefaultAgent: defaultAgent,
				SystemPrompt: prompt,
			}
			return g.withApp(func(app *freza.Freza) error {
				if err := app.Catalog().SaveChannel(def, f); err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Channel '%s' registered.\n", def.Name)
				if prompt != "" {
					fmt.Fprintf(w, "  Custom system prompt: %d chars\n", len(prompt))
				}
				if defaultAgent != "" {
					fmt.Fprintf(w, "  Default agent: %s\n", defaultAgent)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Channel instructions, or @file to read them from a file")
	cmd.Flags().StringVar(&defaultAgent, "default-agent", "", "Agent that handles the channel (default: default)")
	cmd.Flags().StringVar(&format, "format", "yaml", "Definition file format: yaml, json or toml")
	return cmd
}

func buildUnregisterCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unregister",
		Short: "Remove agent or channel definitions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "agent <name>",
			Short: "Remove an agent definition; its directory and memory stay",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if args[0] == core.DefaultAgent {
					return fmt.Errorf("%w: the default agent cannot be removed", core.ErrInvalid)
				}
				return g.withApp(func(app *freza.Freza) error {
					if err := app.Catalog().RemoveAgent(args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Agent '%s' removed.\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "channel <name>",
			Short: "Remove a channel definition",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(func(app *freza.Freza) error {
					if err := app.Catalog().RemoveChannel(args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Channel '%s' removed.\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
