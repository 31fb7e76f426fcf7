package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/freza"
)

func buildServeCmd(g *globalOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, reflect scheduler and catalog hot reload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.HTTP.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			app, err := freza.New(cfg)
			if err != nil {
				return err
			}

			// Create a context that cancels on shutdown signals.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return app.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Bind host (default: http.host, 127.0.0.1)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (default: http.port, 7888)")
	return cmd
}
