package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/querydesk/internal/server"
	"github.com/dusk-indust/querydesk/internal/telemetry"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			shutdown, err := c.startTelemetry()
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			a, err := build(ctx, c.cfg, c.logger, nil)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = c.cfg.Server.Addr
			}
			srv := server.New(a.orch,
				server.WithLogger(c.logger),
				server.WithHealth(a.health),
				server.WithVersion(version),
				server.WithRequestTimeout(c.cfg.Server.RequestTimeout),
			)
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// startTelemetry installs tracing per the loaded config. Spans go to stderr
// so they never mix with command output.
func (c *cli) startTelemetry() (telemetry.ShutdownFunc, error) {
	return telemetry.Setup(telemetry.Config{
		Enabled:     c.cfg.Telemetry.Enabled,
		ServiceName: c.cfg.Telemetry.ServiceName,
		Version:     version,
	}, os.Stderr)
}
