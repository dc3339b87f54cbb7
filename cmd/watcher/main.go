// Package main is the entrypoint for the vodwatch pipeline watcher.
package main

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiranshivaraju/vodwatch/internal/api"
	"github.com/kiranshivaraju/vodwatch/internal/api/handler"
	"github.com/kiranshivaraju/vodwatch/internal/api/response"
	"github.com/kiranshivaraju/vodwatch/internal/config"
	"github.com/kiranshivaraju/vodwatch/internal/metrics"
	"github.com/kiranshivaraju/vodwatch/internal/pipelineapi"
	"github.com/kiranshivaraju/vodwatch/internal/realtime"
	"github.com/kiranshivaraju/vodwatch/internal/tracker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("watcher failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	if err := config.LoadEnvFiles(); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "transport", cfg.Push.Transport, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	// 3. Pipeline API client and views
	pipeline := pipelineapi.NewHTTPClient(cfg.PipelineAPI.BaseURL, cfg.PipelineAPI.Timeout)
	tr := tracker.New(pipeline, tracker.Options{Logger: slog.Default(), Metrics: met})

	// 4. Push connection
	dial, err := realtime.NewDialer(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("create push dialer: %w", err)
	}
	manager := realtime.NewManager(dial, realtime.Options{Logger: slog.Default(), Metrics: met})
	if cfg.Reconnect.ResyncOnReconnect {
		manager.OnReconnected(tr.ResyncOn(ctx, realtime.EventReconnected))
	}

	conn := newConnector(manager, tr, cfg.Reconnect)
	go conn.Run(ctx)

	// 5. Build router with dependencies
	router := api.NewRouter(api.Dependencies{
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		PushState: func() string { return manager.State().String() },
		Panics:    met,

		LivenessHandler:   healthHandler(manager),
		JobHandler:        handler.NewJobHandler(tr),
		HealthHandler:     handler.NewHealthHandler(tr),
		ConnectionHandler: handler.NewConnectionHandler(manager),
		RecentJobsHandler: handler.NewRecentJobsHandler(pipeline),
		JobDetailHandler:  handler.NewJobDetailHandler(pipeline),
		JobEventsHandler:  handler.NewJobEventsHandler(pipeline),
	})

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Stop the connector and any background resync before draining.
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}
	tr.Unbind()
	if err := manager.Close(shutdownCtx); err != nil {
		slog.Error("push connection shutdown failed", "error", err)
	}
	tr.Wait()

	if serveErr != nil {
		return serveErr
	}
	slog.Info("watcher stopped gracefully")
	return nil
}

// connectionState is the part of the manager the liveness check reads.
type connectionState interface {
	State() realtime.State
	ConnectionID() string
}

// healthHandler reports degraded while the push connection is not live.
func healthHandler(conn connectionState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := conn.State()
		checks := map[string]string{
			"push": state.String(),
		}

		if state != realtime.Connected {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"Push connection is not live", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":        "ok",
			"services":      checks,
			"connection_id": conn.ConnectionID(),
		})
	}
}
