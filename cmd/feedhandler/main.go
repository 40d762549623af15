package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/muhammadchandra19/feedhandler/internal/bootstrap"
	"github.com/muhammadchandra19/feedhandler/pkg/config"
	"github.com/muhammadchandra19/feedhandler/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.NewLogger(logger.WithLoggingLevel(logger.Level(cfg.App.LogLevel)))
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	b := (&bootstrap.Bootstrap{}).Init(bootstrap.BootstrapConfig{
		Config: cfg,
		Logger: lg,
	})

	b.StartPublishers(ctx)

	if err := b.Pipeline.Start(); err != nil {
		lg.Error(err)
		os.Exit(1)
	}

	lg.Info("feed handler started",
		logger.Field{Key: "app", Value: cfg.App.Name},
		logger.Field{Key: "environment", Value: cfg.App.Environment},
		logger.Field{Key: "host", Value: cfg.Feed.Host},
		logger.Field{Key: "port", Value: cfg.Feed.Port},
		logger.Field{Key: "protocol", Value: string(cfg.Feed.Protocol)},
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down feed handler")

	b.Pipeline.Stop()
	b.ClosePublishers()

	stats := b.Pipeline.Stats()
	lg.Info("feed handler stopped",
		logger.Field{Key: "duration_ms", Value: stats.DurationMs},
		logger.Field{Key: "parsed", Value: stats.Parsed},
		logger.Field{Key: "processed", Value: stats.Processed},
		logger.Field{Key: "parse_errors", Value: stats.ParseErrors},
		logger.Field{Key: "gaps_detected", Value: stats.GapsDetected},
		logger.Field{Key: "throughput_per_s", Value: stats.ThroughputPerS},
		logger.Field{Key: "recv_to_parse", Value: stats.RecvToParse.String()},
		logger.Field{Key: "parse_to_process", Value: stats.ParseToProcess.String()},
		logger.Field{Key: "e2e_latency", Value: stats.EndToEnd.String()},
	)
}
