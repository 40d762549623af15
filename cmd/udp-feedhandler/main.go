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

	b := (&bootstrap.Bootstrap{}).InitUDP(bootstrap.BootstrapConfig{
		Config: cfg,
		Logger: lg,
	})

	b.StartPublishers(ctx)

	if err := b.Sidecar.Start(); err != nil {
		lg.Error(err)
		os.Exit(1)
	}

	lg.Info("udp feed handler started",
		logger.Field{Key: "app", Value: cfg.App.Name},
		logger.Field{Key: "udp_port", Value: cfg.UDP.ListenPort},
		logger.Field{Key: "control_host", Value: cfg.UDP.ControlHost},
		logger.Field{Key: "control_port", Value: cfg.UDP.ControlPort},
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down udp feed handler")

	b.Sidecar.Stop()
	b.ClosePublishers()

	stats := b.Sidecar.Stats()
	lg.Info("udp feed handler stopped",
		logger.Field{Key: "received", Value: stats.Received},
		logger.Field{Key: "gaps_detected", Value: stats.GapsDetected},
		logger.Field{Key: "gaps_filled", Value: stats.GapsFilled},
		logger.Field{Key: "duplicates", Value: stats.Duplicates},
		logger.Field{Key: "retransmit_requests_sent", Value: stats.RequestsSent},
		logger.Field{Key: "unrecovered_gaps", Value: stats.UnrecoveredGaps},
		logger.Field{Key: "recv_to_processed", Value: stats.Latency.String()},
	)
}
