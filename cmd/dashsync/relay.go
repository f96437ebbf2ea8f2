package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dashsync/internal/relay"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward dashboard API calls to the backend with CORS headers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gw := relay.New(cfg.Relay, nil, logger)
		logger.Infow("relay configured", "upstream", cfg.Relay.Upstream != "", "strictOrigins", cfg.Relay.CORS.Strict)
		return serve(ctx, gw.Routes())
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
