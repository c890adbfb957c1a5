package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/vecdb/internal/config"
	"github.com/fabfab/vecdb/internal/server"
	"github.com/fabfab/vecdb/internal/vecdb"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (environment variables such as SERVER_ADDR override its values)")
	return cmd
}

func runServe(configPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	algo := vecdb.AlgorithmExact
	if cfg.DefaultAlgorithm == "lsh" {
		algo = vecdb.AlgorithmLSH
	}

	store, err := vecdb.Bootstrap(vecdb.BootstrapOptions{
		SnapshotPath:         cfg.Snapshot.Path,
		SampleEmbeddingsPath: cfg.Bootstrap.SampleEmbeddingsPath,
		DefaultAlgorithm:     algo,
		LSHParams: vecdb.LSHParams{
			Tables: cfg.LSH.Tables,
			Planes: cfg.LSH.Planes,
			Seed:   cfg.LSH.Seed,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("bootstrap store: %w", err)
	}

	interval := time.Duration(cfg.Snapshot.IntervalSeconds) * time.Second
	snapshotter := vecdb.NewSnapshotter(store, cfg.Snapshot.Path, interval, logger)
	go snapshotter.Run()

	srv := server.New(cfg, store, snapshotter)

	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: srv,
	}

	logger.Info("starting server", "address", cfg.Address, "snapshot_path", cfg.Snapshot.Path, "default_algorithm", cfg.DefaultAlgorithm)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-waitForSignal():
	}

	return shutdown(httpServer, snapshotter, logger)
}

func loadConfig(configPath string) (config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.FromEnv()
}

func waitForSignal() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return quit
}

func shutdown(srv *http.Server, snapshotter *vecdb.Snapshotter, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		if err := srv.Close(); err != nil {
			logger.Error("forced close failed", "err", err)
		}
	}

	snapshotter.Stop()
	if err := snapshotter.WriteNow(); err != nil {
		logger.Error("final snapshot write failed", "err", err)
	}

	logger.Info("server stopped")
	return nil
}
