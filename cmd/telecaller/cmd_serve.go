package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hubenschmidt/telecaller/internal/dispatch"
	"github.com/hubenschmidt/telecaller/internal/session"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and websocket call gateway",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	lanes := dispatch.New(int64(cfg.maxConcurrentCalls), cfg.laneDepth, 0)
	lanes.Start(ctx)
	defer lanes.Stop()

	if err := a.sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer func() { <-a.sweeper.Stop().Done() }()

	mux := http.NewServeMux()
	registerRoutes(mux, deps{cfg: cfg, app: a, lanes: lanes})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("telecaller starting", "addr", addr, "max_concurrent", cfg.maxConcurrentCalls, "company", cfg.company)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	for _, id := range a.store.IDs() {
		a.coord.EndCall(id, session.StatusCanceled, "shutdown")
	}
	slog.Info("telecaller stopped")
	return nil
}
