package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"squad/internal/server"
	"squad/internal/shared/config"
	"squad/internal/shared/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "squad",
		Short:         "Multi-agent team orchestrator",
		Long:          "squad coordinates fleets of autonomous workers over DAG workflows: task lifecycle, claims, governance gates, execution tracking, and retention.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []config.Option{}
			if configPath != "" {
				opts = append(opts, config.WithConfigPath(configPath))
			}
			cfg, err := config.Load(opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.NewComponentLogger("squad")
			srv, err := server.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := srv.Run(ctx); err != nil && !isCancelled(ctx, err) {
				return err
			}
			logger.Info("server: stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	return cmd
}

func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && err == ctx.Err()
}
