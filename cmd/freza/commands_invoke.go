package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/freza"
	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/engine"
)

func buildInvokeCmd(g *globalOptions) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "invoke <agent> <message>",
		Short: "Invoke an agent directly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(app *freza.Freza) error {
				return runInvocation(cmd, app, engine.StartRequest{
					Agent:    args[0],
					Message:  args[1],
					ThreadID: threadID,
					Mode:     core.ModeDirect,
				})
			})
		},
	}
	cmd.Flags().StringVar(&threadID, "thread-id", "", "Thread ID for multi-turn conversations")
	return cmd
}

func buildChannelCmd(g *globalOptions) *cobra.Command {
	var (
		threadID string
		agent    string
	)
	cmd := &cobra.Command{
		Use:   "channel <channel> <message>",
		Short: "Send a message through a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(app *freza.Freza) error {
				return runInvocation(cmd, app, engine.StartRequest{
					Agent:    agent,
					Message:  args[1],
					ThreadID: threadID,
					Mode:     core.ModeChannel,
					Channel:  args[0],
				})
			})
		},
	}
	cmd.Flags().StringVar(&threadID, "thread-id", "", "Thread ID for multi-turn conversations")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent to route to (overrides the channel default)")
	return cmd
}

func buildReflectCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reflect [agent]",
		Short: "Run an agent in reflect mode",
		Long:  "Run a single reflect invocation, the same one the scheduler starts on an agent's reflect_schedule.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := core.DefaultAgent
			if len(args) == 1 {
				agent = args[0]
			}
			return g.withApp(func(app *freza.Freza) error {
				return runInvocation(cmd, app, engine.StartRequest{Agent: agent, Mode: core.ModeReflect})
			})
		},
	}
}

// runInvocation starts req, streams its events to the command's outputs
// and stops the invocation on SIGINT or SIGTERM.
func runInvocation(cmd *cobra.Command, app *freza.Freza, req engine.StartRequest) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	req.Subscribe = true
	res, err := app.Engine().StartInvocation(ctx, req)
	if err != nil {
		return err
	}
	defer res.Subscription.Close()

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "[%s] started (mode=%s, agent=%s, thread=%s)\n", res.InstanceID, req.Mode, res.Agent, res.ThreadID)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			fmt.Fprintf(stderr, "[%s] stopping\n", res.InstanceID)
			_ = app.Engine().Stop(res.InstanceID)
		case <-finished:
		}
	}()

	printEvents(cmd.OutOrStdout(), stderr, res.Subscription.Events())

	out, err := res.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "[%s] %s (thread=%s, cost=$%.4f, %.1fs)\n",
		res.InstanceID, out.Status, out.ThreadID, out.Turn.CostUSD, float64(out.Turn.DurationMS)/1000)
	if out.Status != core.StatusCompleted {
		if out.Err != nil {
			return fmt.Errorf("invocation %s: %w", out.Status, out.Err)
		}
		return fmt.Errorf("invocation %s", out.Status)
	}
	return nil
}

// printEvents writes response text to stdout and progress to stderr.
func printEvents(stdout, stderr io.Writer, events <-chan core.Event) {
	wroteText := false
	for ev := range events {
		switch ev.Type {
		case core.EventTextDelta:
			fmt.Fprint(stdout, ev.Text)
			wroteText = true
		case core.EventToolUse:
			if ev.InputSummary != "" {
				fmt.Fprintf(stderr, "  > %s: %s\n", ev.Name, ev.InputSummary)
			} else {
				fmt.Fprintf(stderr, "  > %s\n", ev.Name)
			}
		case core.EventToolResult:
			if ev.IsError {
				fmt.Fprintf(stderr, "  ! tool %s failed\n", ev.ToolID)
			}
		case core.EventError:
			fmt.Fprintf(stderr, "error: %s\n", ev.Message)
		}
	}
	if wroteText {
		fmt.Fprintln(stdout)
	}
}
