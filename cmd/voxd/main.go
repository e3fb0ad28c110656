// Command voxd runs the assistant: it loads config, wires every
// component through internal/lifecycle, and drives the stdin/stdout
// control protocol until EOF or a shutdown signal.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quietsignal/voxd/internal/config"
	"github.com/quietsignal/voxd/internal/env"
	"github.com/quietsignal/voxd/internal/lifecycle"
	"github.com/quietsignal/voxd/internal/protocol"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	configPath := env.Str("VOXD_CONFIG", "voxd.yaml")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("config load failed", "path", configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.App.LogLevel)})))

	assistant := lifecycle.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ok, err := assistant.Initialize(ctx)
	if !ok {
		slog.Error("assistant initialize failed", "error", err)
		os.Exit(1)
	}

	server := protocol.NewServer(os.Stdin, os.Stdout, assistant)
	assistant.SetEmitter(server.Emit)

	go awaitShutdown(cancel, assistant)

	slog.Info("voxd ready", "config", configPath)

	runErr := server.Run(ctx)

	if err := assistant.Cleanup(); err != nil {
		slog.Warn("cleanup reported an error", "error", err)
	}

	if runErr != nil && runErr != context.Canceled {
		slog.Error("control protocol stopped", "error", runErr)
		os.Exit(1)
	}
	slog.Info("voxd stopped")
}

// awaitShutdown blocks until SIGINT/SIGTERM, then cancels the run context
// so protocol.Server.Run returns and main can call Cleanup.
func awaitShutdown(cancel context.CancelFunc, assistant *lifecycle.Assistant) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	_ = assistant.Stop()
	cancel()

	// Give Run's in-flight scan loop a moment to observe the cancellation
	// before main forces Cleanup; the control loop itself never blocks
	// longer than one read of stdin.
	time.Sleep(50 * time.Millisecond)
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
