// Package orderbook reconstructs a price-level limit order book from
// snapshots and incremental updates and answers top-of-book queries.
package orderbook

import (
	"errors"
	"sync"

	"github.com/tidwall/btree"

	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
	"github.com/muhammadchandra19/feedhandler/pkg/logger"
)

// ErrNegativeQuantity is returned for incremental updates carrying a
// negative quantity; the update is dropped.
var ErrNegativeQuantity = errors.New("orderbook: negative quantity in update")

// Book holds the bid and ask sides as ordered price maps. Prices are keyed
// in their 32-bit wire representation and compared exactly, no epsilon.
//
// The applier goroutine mutates the book; readers (stats, publishers) take
// point-in-time copies under the read lock. Crossed books are not rejected
// here; that is left to consumers.
type Book struct {
	mu   sync.RWMutex
	bids btree.Map[float32, uint64]
	asks btree.Map[float32, uint64]
	log  logger.Interface
}

// NewBook creates an empty book.
func NewBook(log logger.Interface) *Book {
	return &Book{log: log}
}

// Clear empties both sides.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.Clear()
	b.asks.Clear()
}

// LoadSnapshot replaces the whole book. Zero-quantity levels are silently
// dropped; snapshots must not contain holes.
func (b *Book) LoadSnapshot(bids, asks []marketdatav1.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.Clear()
	b.asks.Clear()

	for _, l := range bids {
		if l.Quantity > 0 {
			b.bids.Set(l.Price, l.Quantity)
		}
	}
	for _, l := range asks {
		if l.Quantity > 0 {
			b.asks.Set(l.Price, l.Quantity)
		}
	}
}

// ApplyUpdate applies one incremental level change: positive quantity
// inserts or overwrites, zero deletes, negative is a protocol error that is
// logged and dropped.
func (b *Book) ApplyUpdate(side marketdatav1.Side, price float32, quantity int64) error {
	if quantity < 0 {
		b.log.Warn("dropping update with negative quantity",
			logger.Field{Key: "side", Value: side.String()},
			logger.Field{Key: "price", Value: price},
			logger.Field{Key: "quantity", Value: quantity},
		)
		return ErrNegativeQuantity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tree := &b.bids
	if side == marketdatav1.SideAsk {
		tree = &b.asks
	}

	if quantity == 0 {
		tree.Delete(price)
		return nil
	}
	tree.Set(price, uint64(quantity))
	return nil
}

// BestBid returns the highest-priced bid level.
func (b *Book) BestBid() (marketdatav1.Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	price, qty, ok := b.bids.Max()
	if !ok {
		return marketdatav1.Level{}, false
	}
	return marketdatav1.Level{Price: price, Quantity: qty}, true
}

// BestAsk returns the lowest-priced ask level.
func (b *Book) BestAsk() (marketdatav1.Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	price, qty, ok := b.asks.Min()
	if !ok {
		return marketdatav1.Level{}, false
	}
	return marketdatav1.Level{Price: price, Quantity: qty}, true
}

// TopBids returns up to n bid levels, best (highest price) first.
func (b *Book) TopBids(n int) []marketdatav1.Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := make([]marketdatav1.Level, 0, n)
	b.bids.Reverse(func(price float32, qty uint64) bool {
		if len(levels) >= n {
			return false
		}
		levels = append(levels, marketdatav1.Level{Price: price, Quantity: qty})
		return true
	})
	return levels
}

// TopAsks returns up to n ask levels, best (lowest price) first.
func (b *Book) TopAsks(n int) []marketdatav1.Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := make([]marketdatav1.Level, 0, n)
	b.asks.Scan(func(price float32, qty uint64) bool {
		if len(levels) >= n {
			return false
		}
		levels = append(levels, marketdatav1.Level{Price: price, Quantity: qty})
		return true
	})
	return levels
}

// TopOfBook copies the top n levels of both sides in one lock acquisition,
// for external readers such as the book publisher.
func (b *Book) TopOfBook(n int) (bids, asks []marketdatav1.Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids = make([]marketdatav1.Level, 0, n)
	b.bids.Reverse(func(price float32, qty uint64) bool {
		if len(bids) >= n {
			return false
		}
		bids = append(bids, marketdatav1.Level{Price: price, Quantity: qty})
		return true
	})

	asks = make([]marketdatav1.Level, 0, n)
	b.asks.Scan(func(price float32, qty uint64) bool {
		if len(asks) >= n {
			return false
		}
		asks = append(asks, marketdatav1.Level{Price: price, Quantity: qty})
		return true
	})
	return bids, asks
}

// BidDepth returns the number of bid levels.
func (b *Book) BidDepth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len()
}

// AskDepth returns the number of ask levels.
func (b *Book) AskDepth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Len()
}

// Empty reports whether both sides have no levels.
func (b *Book) Empty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len() == 0 && b.asks.Len() == 0
}
