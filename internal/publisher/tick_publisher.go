// Package publisher exposes the reconstructed feed state to downstream
// consumers: processed ticks to a Kafka topic, top-of-book images to a Redis
// channel. Both sit strictly off the hot path.
package publisher

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
	"github.com/muhammadchandra19/feedhandler/pkg/config"
	"github.com/muhammadchandra19/feedhandler/pkg/errors"
	"github.com/muhammadchandra19/feedhandler/pkg/logger"
)

// kafkaWriter is the slice of kafka.Writer the publisher uses; injectable
// for tests.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TickPublisher forwards processed ticks to a Kafka topic. Publish never
// blocks: ticks are staged on a bounded channel and a dedicated goroutine
// drains it; when the buffer is full the tick is counted as dropped.
type TickPublisher struct {
	writer kafkaWriter
	log    logger.Interface

	ch      chan marketdatav1.TimedTick
	done    chan struct{}
	dropped atomic.Uint64
}

// NewTickPublisher creates a publisher for the given Kafka configuration.
func NewTickPublisher(cfg config.KafkaConfig, log logger.Interface) *TickPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	})

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 4096
	}

	return &TickPublisher{
		writer: writer,
		log:    log,
		ch:     make(chan marketdatav1.TimedTick, bufferSize),
		done:   make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (p *TickPublisher) Start(ctx context.Context) {
	go p.run(ctx)
}

// Publish stages one tick for delivery. Never blocks.
func (p *TickPublisher) Publish(tick marketdatav1.TimedTick) {
	select {
	case p.ch <- tick:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns the number of ticks discarded because the buffer was full.
func (p *TickPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops accepting ticks, waits for the drain goroutine, and closes the
// writer.
func (p *TickPublisher) Close() error {
	close(p.ch)
	<-p.done
	return p.writer.Close()
}

func (p *TickPublisher) run(ctx context.Context) {
	defer close(p.done)

	for tick := range p.ch {
		msg, err := buildTickMessage(tick)
		if err != nil {
			p.log.Error(errors.TracerFromError(err))
			continue
		}
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.log.Error(errors.NewTracerWithCode("failed to publish tick", errors.PublishError).Wrap(err),
				logger.Field{Key: "symbol", Value: tick.Tick.Symbol},
			)
		}
	}
}

// buildTickMessage renders one tick as a Kafka message keyed by symbol.
func buildTickMessage(tick marketdatav1.TimedTick) (kafka.Message, error) {
	value, err := json.Marshal(struct {
		marketdatav1.Tick
		Sequence uint64 `json:"sequence"`
	}{
		Tick:     tick.Tick,
		Sequence: tick.Sequence,
	})
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(tick.Tick.Symbol),
		Value: value,
	}, nil
}
