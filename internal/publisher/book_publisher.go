package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
	"github.com/muhammadchandra19/feedhandler/internal/usecase/orderbook"
	"github.com/muhammadchandra19/feedhandler/pkg/config"
	"github.com/muhammadchandra19/feedhandler/pkg/errors"
	"github.com/muhammadchandra19/feedhandler/pkg/logger"
)

// bookImage is the published top-of-book payload.
type bookImage struct {
	Symbol string                `json:"symbol"`
	Bids   []marketdatav1.Level  `json:"bids"`
	Asks   []marketdatav1.Level  `json:"asks"`
	AtUnix int64                 `json:"at_unix_ms"`
}

// BookPublisher periodically publishes the top-N levels of the book to a
// Redis channel. It reads the book through its snapshot interface and never
// touches the applier's write path.
type BookPublisher struct {
	client   *redis.Client
	log      logger.Interface
	book     *orderbook.Book
	symbol   string
	channel  string
	depth    int
	interval time.Duration

	stopCh chan struct{}
	done   chan struct{}
}

// NewBookPublisher creates a publisher for the given Redis configuration.
func NewBookPublisher(cfg config.RedisConfig, symbol string, book *orderbook.Book, log logger.Interface) *BookPublisher {
	depth := cfg.Depth
	if depth <= 0 {
		depth = 5
	}
	interval := time.Duration(cfg.PublishIntervalS) * time.Second
	if interval <= 0 {
		interval = time.Second
	}

	return &BookPublisher{
		client:   redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		log:      log,
		book:     book,
		symbol:   symbol,
		channel:  cfg.Channel,
		depth:    depth,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the publish loop.
func (p *BookPublisher) Start(ctx context.Context) {
	go p.run(ctx)
}

// Close stops the publish loop and closes the client.
func (p *BookPublisher) Close() error {
	close(p.stopCh)
	<-p.done
	return p.client.Close()
}

func (p *BookPublisher) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce(ctx)
		}
	}
}

func (p *BookPublisher) publishOnce(ctx context.Context) {
	bids, asks := p.book.TopOfBook(p.depth)
	if len(bids) == 0 && len(asks) == 0 {
		return
	}

	payload, err := json.Marshal(bookImage{
		Symbol: p.symbol,
		Bids:   bids,
		Asks:   asks,
		AtUnix: time.Now().UnixMilli(),
	})
	if err != nil {
		p.log.Error(errors.TracerFromError(err))
		return
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Error(errors.NewTracerWithCode("failed to publish book image", errors.PublishError).Wrap(err),
			logger.Field{Key: "channel", Value: p.channel},
		)
	}
}
