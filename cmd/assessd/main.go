// Assessd is the assessment session orchestrator daemon.
//
// It drives candidates through multi-stage assessment pipelines: starting
// timed rounds against the evaluation gateway, collecting working data,
// gating progression on pass thresholds and recording outcomes.
//
// Configuration is loaded from a YAML file plus environment overrides. See
// internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	assessd
//
//	# Configure via file and environment
//	SERVER_PORT=8820 assessd -config /etc/assessd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/events"
	"github.com/fyrsmithlabs/assessd/internal/gateway"
	"github.com/fyrsmithlabs/assessd/internal/httpapi"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/session"
	"github.com/fyrsmithlabs/assessd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  assessd            Start the assessd daemon\n")
			fmt.Fprintf(os.Stderr, "  assessd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("assessd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the assessd server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Connects to NATS when event publishing is enabled
//  4. Creates the evaluation gateway client
//  5. Wires the session orchestrator
//  6. Starts the HTTP server
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting assessd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("gateway", cfg.Gateway.BaseURL),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	tel, err := telemetry.New(ctx, telemetry.FromRef(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown incomplete", zap.Error(err))
		}
	}()

	publisher, natsConn, err := initPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Close()
	}
	defer publisher.Close()

	gw := gateway.NewClient(&cfg.Gateway, logger.Underlying().Named("gateway"))

	svc, err := session.NewService(session.DefaultServiceConfig(), cfg, gw, publisher, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn(context.Background(), "session service close failed", zap.Error(err))
		}
	}()

	srv, err := httpapi.NewServer(svc, logger.Underlying().Named("http"), &httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// initPublisher connects to NATS and builds the lifecycle event publisher.
// Returns a no-op publisher when events are disabled.
func initPublisher(ctx context.Context, cfg *config.Config, logger *logging.Logger) (events.Publisher, *nats.Conn, error) {
	if !cfg.Events.Enabled {
		return events.Nop{}, nil, nil
	}

	nc, err := nats.Connect(cfg.Events.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Events.URL, err)
	}

	logger.Info(ctx, "connected to NATS", zap.String("url", cfg.Events.URL))

	return events.NewNATSPublisher(&cfg.Events, nc, logger), nc, nil
}
