package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dashsync/internal/agent"
	"dashsync/internal/journey"
	"dashsync/internal/session"
)

var (
	watchToken  string
	watchPeriod string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a headless dashboard session that logs every refresh",
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
			// Backend calls are dynamic data and never cached, so the session
			// still works with an inactive agent.
			logger.Warnw("cache agent not started, requests pass through", "error", err)
		}

		creds, err := session.NewCredentialStore(cfg.Sync.Credentials.Backend, cfg.Sync.Credentials.Path)
		if err != nil {
			return err
		}

		period := cfg.Sync.Period
		if watchPeriod != "" {
			period = watchPeriod
		}

		s, err := session.New(ctx, session.Options{
			BackendURL:     cfg.Sync.Backend,
			HTTPClient:     &http.Client{Transport: a},
			Credentials:    creds,
			Token:          watchToken,
			Period:         period,
			Rules:          journey.RulesFromConfig(cfg.Journey),
			Renderer:       session.NewLogRenderer(logger),
			SessionMarkers: cfg.Sync.SessionMarkers,
			RetryDelay:     cfg.Sync.RetryDelayDur,
			Timeout:        cfg.Sync.TimeoutDur,
			Logger:         logger,
		})
		if errors.Is(err, session.ErrLoginRequired) {
			return fmt.Errorf("%w: pass --token or sign in again", err)
		}
		if err != nil {
			return err
		}
		logger.Infow("signed in", "name", s.Name(), "appVersion", s.AppVersion())

		switch err := s.Run(ctx); {
		case errors.Is(err, session.ErrUpdateAvailable):
			logger.Warnw("backend redeployed, signed out; start watch again to sign in")
			return nil
		default:
			return err
		}
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchToken, "token", os.Getenv("DASHSYNC_TOKEN"), "session token (defaults to stored credentials)")
	watchCmd.Flags().StringVar(&watchPeriod, "period", "", "reporting period, e.g. WEEKLY")
	rootCmd.AddCommand(watchCmd)
}
