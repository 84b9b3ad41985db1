package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregtusar/arbsync/api"
	"github.com/gregtusar/arbsync/internal/config"
	"github.com/gregtusar/arbsync/internal/logging"
	"github.com/gregtusar/arbsync/pkg/feed"
	"github.com/gregtusar/arbsync/pkg/socketio"
	"github.com/gregtusar/arbsync/pkg/storage"
	"github.com/gregtusar/arbsync/pkg/tracker"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arbsync",
		Short: "Realtime arbitrage feed client",
		Long:  `Keeps a live connection to the arbitrage backend, tracks the best opportunity ever seen and serves the current state over HTTP`,
		RunE:  runSync,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the backend and serve the read API",
		RunE:  runSync,
	}

	rootCmd.AddCommand(runCmd, newHighestCmd(), newResetHighestCmd(), newNormalizeCmd())
	return rootCmd
}

// setup loads .env, the config file and the logger shared by every command.
func setup() (*config.Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger = logging.New(cfg.Logging)
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "redis":
		rs := storage.NewRedisStore(storage.RedisOptions{
			Addr:     cfg.Storage.Redis.Addr,
			Username: cfg.Storage.Redis.Username,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Storage.Redis.Addr, err)
		}
		return rs, nil
	default:
		return storage.NewFileStore(cfg.Storage.Path)
	}
}

func newTracker(ctx context.Context, cfg *config.Config, store storage.Store) *tracker.Tracker {
	t := tracker.New(store, tracker.Options{
		Key:          cfg.Storage.Key,
		WriteTimeout: cfg.Storage.WriteTimeout,
	}, logger)
	t.Load(ctx)
	return t
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	profits := newTracker(ctx, cfg, store)

	manager := feed.NewManager(feed.SocketDialer{
		Options: socketio.Options{
			URL:            cfg.Socket.URL,
			Path:           cfg.Socket.Path,
			Namespace:      cfg.Socket.Namespace,
			ConnectTimeout: cfg.Socket.ConnectTimeout,
		},
	}, profits, feed.Config{
		ReconnectMin:    cfg.Socket.ReconnectDelayMin,
		ReconnectMax:    cfg.Socket.ReconnectDelayMax,
		ReconnectFactor: cfg.Socket.ReconnectFactor,
		StaleWindow:     cfg.Freshness.StaleWindow,
	}, logger)

	manager.Subscribe(logEvent)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start feed: %w", err)
	}

	var apiServer *api.Server
	if cfg.Server.Enabled {
		apiServer = api.NewServer(manager, logger, fmt.Sprintf("%d", cfg.Server.Port))
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.WithError(err).Error("API server stopped")
				cancel()
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.WithField("url", cfg.Socket.URL).Info("arbsync is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown")
		}
	}
	manager.Stop()
	if err := profits.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Highest-profit flush did not finish")
	}

	logger.Info("arbsync stopped")
	return nil
}

func logEvent(ev feed.Event) {
	entry := logger.WithField("event", ev.Type)
	switch ev.Type {
	case feed.EventConnectionState:
		entry.WithFields(logrus.Fields{
			"connected": ev.Connection.Connected,
			"reason":    ev.Reason,
		}).Info("Connection state changed")
	case feed.EventError:
		entry.WithError(ev.Err).Warn("Connection error")
	case feed.EventHello:
		entry.WithField("message", ev.Hello.Message).Info("Server hello")
	case feed.EventDataUpdate:
		entry.WithFields(logrus.Fields{
			"status":        ev.Snapshot.Status,
			"opportunities": len(ev.Snapshot.Opportunities),
		}).Debug("Arbitrage update")
	case feed.EventHighestProfit:
		entry.WithFields(logrus.Fields{
			"profit": ev.HighestProfit.Profit,
			"route":  ev.HighestProfit.Route(),
		}).Info("New highest profit")
	}
}
