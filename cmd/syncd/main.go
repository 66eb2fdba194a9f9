// Communitas sync daemon
//
// Runs the offline-first sync engine against a node gateway:
// - durable local cache (SQLite) with TTL enforcement
// - offline mutation queue with bounded replay
// - connectivity monitoring and automatic reconnect
// - push event reconciliation over SSE
// - Prometheus metrics
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/willief/communitas-sub001/internal/config"
	"github.com/willief/communitas-sub001/internal/logging"
	"github.com/willief/communitas-sub001/internal/metrics"
	"github.com/willief/communitas-sub001/pkg/engine"
	"github.com/willief/communitas-sub001/pkg/remote"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("communitas sync daemon starting",
		zap.String("gateway", cfg.GatewayURL),
		zap.String("db", cfg.DBPath),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := remote.NewClient(remote.ClientConfig{
		BaseURL:   cfg.GatewayURL,
		UserID:    cfg.UserID,
		AuthToken: cfg.AuthToken,
		Timeout:   cfg.RemoteTimeout,
	})

	eng := engine.New(engine.Config{
		DBPath:            cfg.DBPath,
		UserID:            cfg.UserID,
		PollInterval:      cfg.PollInterval,
		ReconnectInterval: cfg.ReconnectInterval,
		SweepInterval:     cfg.SweepInterval,
		AutoReconnect:     cfg.AutoReconnect,
	}, backend)

	if err := eng.Init(ctx); err != nil {
		logging.Fatal("engine init failed", zap.Error(err))
	}

	// Metrics endpoint
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	metricsServer.Shutdown(shutdownCtx)
	if err := eng.Close(shutdownCtx); err != nil {
		logging.Error("engine close failed", zap.Error(err))
	}
}
