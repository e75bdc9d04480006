package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/mcptools"
)

func newMCPCmd(c *cli) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the query tool over the Model Context Protocol",
		Long:  "Serves the query tool on stdio, or over streamable HTTP when --http is set.",
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
			srv := mcptools.NewQueryMCPServer(a.orch)
			if httpAddr != "" {
				c.logger.Info("mcp listening", zap.String("addr", httpAddr))
				return mcptools.RunHTTP(ctx, srv, httpAddr)
			}
			return mcptools.RunStdio(ctx, srv)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}
