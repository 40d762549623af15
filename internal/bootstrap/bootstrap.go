// Package bootstrap assembles the feed handler from configuration and a
// caller-supplied logger: connection manager, book, pipeline, and the
// optional downstream publishers.
package bootstrap

import (
	"context"
	"time"

	"github.com/muhammadchandra19/feedhandler/internal/connection"
	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
	"github.com/muhammadchandra19/feedhandler/internal/publisher"
	"github.com/muhammadchandra19/feedhandler/internal/usecase/feed"
	"github.com/muhammadchandra19/feedhandler/internal/usecase/orderbook"
	"github.com/muhammadchandra19/feedhandler/internal/usecase/recovery"
	"github.com/muhammadchandra19/feedhandler/pkg/config"
	"github.com/muhammadchandra19/feedhandler/pkg/logger"
)

// Bootstrap holds the wired components of one feed handler instance.
type Bootstrap struct {
	Config *config.Config
	Logger logger.Interface

	Book          *orderbook.Book
	Manager       *connection.Manager
	Pipeline      *feed.Pipeline
	Sidecar       *recovery.Sidecar
	TickPublisher *publisher.TickPublisher
	BookPublisher *publisher.BookPublisher
}

// BootstrapConfig is the input to Init.
type BootstrapConfig struct {
	Config *config.Config
	Logger logger.Interface
}

// Init wires the TCP pipeline and the optional publishers.
func (b *Bootstrap) Init(cfg BootstrapConfig) *Bootstrap {
	b.Config = cfg.Config
	b.Logger = cfg.Logger

	b.Book = orderbook.NewBook(b.Logger)

	b.Manager = connection.NewManager(connection.Options{
		Host:             b.Config.Feed.Host,
		Port:             b.Config.Feed.Port,
		HeartbeatTimeout: time.Duration(b.Config.Feed.HeartbeatTimeoutS) * time.Second,
		MaxBackoff:       time.Duration(b.Config.Feed.MaxBackoffS) * time.Second,
		RecvBufferBytes:  b.Config.Feed.RecvBufferBytes,
	}, b.Logger)

	b.Pipeline = feed.NewPipeline(feed.Config{
		Protocol:      b.Config.Feed.Protocol,
		Symbol:        b.Config.Feed.Symbol,
		QueueCapacity: b.Config.Feed.QueueCapacity,
		Verbose:       b.Config.Feed.Verbose,
	}, nil, b.Manager, b.Book, b.Logger)

	b.registerPublishers()
	if b.TickPublisher != nil {
		b.Pipeline.SetTickCallback(func(tick marketdatav1.TimedTick) {
			b.TickPublisher.Publish(tick)
		})
	}

	return b
}

// InitUDP wires the UDP sidecar and the optional publishers.
func (b *Bootstrap) InitUDP(cfg BootstrapConfig) *Bootstrap {
	b.Config = cfg.Config
	b.Logger = cfg.Logger

	b.Book = orderbook.NewBook(b.Logger)

	b.Sidecar = recovery.NewSidecar(recovery.Config{
		ListenPort:          b.Config.UDP.ListenPort,
		ControlHost:         b.Config.UDP.ControlHost,
		ControlPort:         b.Config.UDP.ControlPort,
		RetransmitInterval:  time.Duration(b.Config.UDP.RetransmitIntervalS) * time.Second,
		MaxRequestsPerCycle: b.Config.UDP.MaxRequestsPerCycle,
		RecvBufferBytes:     b.Config.UDP.RecvBufferBytes,
		FinalDrainTimeout:   time.Duration(b.Config.UDP.FinalDrainTimeoutS) * time.Second,
	}, b.Logger)

	b.registerPublishers()
	if b.TickPublisher != nil {
		b.Sidecar.SetTickCallback(func(tick marketdatav1.TimedTick) {
			b.TickPublisher.Publish(tick)
		})
	}

	return b
}

func (b *Bootstrap) registerPublishers() {
	if b.Config.Kafka.Enabled {
		b.TickPublisher = publisher.NewTickPublisher(b.Config.Kafka, b.Logger)
	}
	if b.Config.Redis.Enabled {
		b.BookPublisher = publisher.NewBookPublisher(b.Config.Redis, b.Config.Feed.Symbol, b.Book, b.Logger)
	}
}

// StartPublishers launches whichever publishers are configured.
func (b *Bootstrap) StartPublishers(ctx context.Context) {
	if b.TickPublisher != nil {
		b.TickPublisher.Start(ctx)
	}
	if b.BookPublisher != nil {
		b.BookPublisher.Start(ctx)
	}
}

// ClosePublishers shuts the publishers down in reverse dependency order.
func (b *Bootstrap) ClosePublishers() {
	if b.BookPublisher != nil {
		if err := b.BookPublisher.Close(); err != nil {
			b.Logger.Error(err)
		}
	}
	if b.TickPublisher != nil {
		if err := b.TickPublisher.Close(); err != nil {
			b.Logger.Error(err)
		}
	}
}
