package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/freza"
	"github.com/hupe1980/freza/config"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	baseDir    string
}

func buildRootCmd() *cobra.Command {
	g := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "freza",
		Short:         "Coordinate long-running autonomous agents",
		Long:          "freza invokes named agents with persistent memory directly, through channels or on a reflect schedule, and serves their live event streams over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Path to config file (default: <base-dir>/freza.{yaml,json,toml})")
	rootCmd.PersistentFlags().StringVar(&g.baseDir, "base-dir", "", "Workspace directory (default: $AGENT_BASE_DIR or ~/.freza)")

	rootCmd.AddCommand(
		buildServeCmd(g),
		buildInvokeCmd(g),
		buildChannelCmd(g),
		buildReflectCmd(g),
		buildThreadsCmd(g),
		buildThreadCmd(g),
		buildStatsCmd(g),
		buildInstancesCmd(g),
		buildAgentsCmd(g),
		buildChannelsCmd(g),
		buildRegisterAgentCmd(g),
		buildRegisterChannelCmd(g),
		buildUnregisterCmd(g),
		buildMemoryCmd(g),
		buildCleanupCmd(g),
		buildVersionCmd(),
	)
	return rootCmd
}

func (g *globalOptions) loadConfig() (*config.Config, error) {
	return config.Load(func(o *config.LoadOptions) {
		o.ConfigFile = g.configFile
		o.BaseDir = g.baseDir
	})
}

// withApp opens the workspace, runs fn and releases the workspace again.
func (g *globalOptions) withApp(fn func(app *freza.Freza) error) (err error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	app, err := freza.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := app.Close(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(app)
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), freza.Version)
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readPromptArg resolves "@path" to the content of path.
func readPromptArg(v string) (string, error) {
	if !strings.HasPrefix(v, "@") {
		return v, nil
	}
	b, err := os.ReadFile(strings.TrimPrefix(v, "@"))
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return string(b), nil
}
