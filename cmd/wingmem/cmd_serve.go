package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wingmem/internal/config"
	"wingmem/internal/dispatch"
	"wingmem/internal/logging"
	"wingmem/internal/memory"
	"wingmem/internal/server"
)

var (
	serveStdio bool
	serveAddr  string
)

// serveCmd runs the engine as a long-lived process: the JSON-line
// dispatch loop over stdio, the read-only HTTP wrapper, or both.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory engine as a server",
	Long: `Runs the engine as a long-lived process.

By default only the read-only HTTP wrapper starts (health, stats,
base-layer query, Prometheus metrics). With --stdio the JSON-line
dispatch protocol also runs over stdin/stdout, which is how host
processes embed wingmem for writes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve the dispatch protocol over stdin/stdout")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := memory.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Config edits take effect without a restart.
	watcher, err := config.NewWatcher(workspace, func(path string) {
		logger.Info("config changed, reloading", zap.String("path", path))
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			reloaded, err := config.Load(path)
			if err != nil {
				logger.Warn("config reload failed", zap.Error(err))
				return
			}
			if err := logging.Apply(reloaded.Logging.DebugMode, reloaded.Logging.Level, reloaded.Logging.Categories, reloaded.Logging.JSONFormat); err != nil {
				logger.Warn("logging reload failed", zap.Error(err))
			}
		default:
			if err := logging.ReloadConfig(); err != nil {
				logger.Warn("logging reload failed", zap.Error(err))
			}
		}
	})
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	srv := server.New(store, cfg.Server, cfg.Query)
	errCh := make(chan error, 2)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	if serveStdio {
		go func() {
			d := dispatch.New(store)
			errCh <- d.Serve(ctx, os.Stdin, os.Stdout)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("wingmem serving",
		zap.String("db", cfg.Memory.DatabasePath),
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("stdio", serveStdio))

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("server exited", zap.Error(err))
			return err
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
