package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dashsync/internal/agent"
	"dashsync/internal/config"
	"dashsync/internal/logging"
)

var (
	configPath string

	cfg    config.Config
	logger *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "dashsync",
	Short: "Caching and sync core of the analytics dashboard",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if cfg, err = config.LoadConfig(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Development); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getenvDefault("DASHSYNC_CONFIG", ""), "path to dashsync.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serve runs h on the configured port until ctx is done.
func serve(ctx context.Context, h http.Handler) error {
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		logger.Infow("listening", "addr", addr)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStorage returns the cache storage named by agent.storage.backend.
func openStorage(a config.Agent) (agent.Storage, error) {
	switch a.Storage.Backend {
	case "leveldb":
		if err := os.MkdirAll(a.Storage.Path, 0o755); err != nil {
			return nil, err
		}
		return agent.OpenLevelDB(a.Storage.Path)
	default:
		return agent.NewMemoryStorage(a.RAMMaxBytes), nil
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
