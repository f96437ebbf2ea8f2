package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"dashsync/internal/agent"
	"dashsync/internal/middleware"
	"dashsync/internal/relay"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Serve the dashboard shell through the cache agent, plus the API relay",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		storage, err := openStorage(cfg.Agent)
		if err != nil {
			return fmt.Errorf("open cache storage: %w", err)
		}
		defer storage.Close()

		a, err := agent.New(cfg.Agent, storage, nil, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start agent: %w", err)
		}
		a.RunStatsLoop(cfg.Logging.LogStatsEveryDur)

		gw := relay.New(cfg.Relay, nil, logger)

		router := chi.NewRouter()
		router.Use(middleware.RequestID)
		router.Use(middleware.Log(logger))
		router.Use(chiMiddleware.Recoverer)
		router.Options("/api/*", gw.PreflightHandler)
		router.Post("/api/*", gw.SubmitHandler)
		router.Get("/*", a.Handler().ServeHTTP)

		logger.Infow("serving shell", "origin", cfg.Agent.ShellOrigin, "store", cfg.Agent.StoreName())
		return serve(ctx, router)
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
