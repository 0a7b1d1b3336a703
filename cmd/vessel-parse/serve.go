package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vesselgpt/vessel/internal/mcp"
	"github.com/vesselgpt/vessel/internal/server"
)

func newServeCmd() *cobra.Command {
	var noOps bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the extraction tools over MCP stdio, plus the ops HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			mcpServer, err := mcp.NewServer(a.cfg, a.extractor, a.logger)
			if err != nil {
				return err
			}

			// Stdin closing ends the session, and with it the ops server.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				defer cancel()
				return mcpServer.Run(ctx)
			})
			if !noOps && a.cfg.OpsAddr != "" {
				ops := server.New(a.extractor, a.cfg.MaxFileSize, a.logger, a.healthChecks()...)
				g.Go(func() error {
					return ops.ListenAndServe(ctx, a.cfg.OpsAddr)
				})
			}

			err = g.Wait()
			a.logger.Info("server stopped", zap.Error(err))
			return err
		},
	}
	cmd.Flags().BoolVar(&noOps, "no-ops", false, "Do not start the ops HTTP server")
	return cmd
}
