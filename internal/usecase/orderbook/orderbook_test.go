package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
	logger_mock "github.com/muhammadchandra19/feedhandler/pkg/logger/mock"
)

func newTestBook(t *testing.T) (*Book, *logger_mock.MockInterface) {
	ctrl := gomock.NewController(t)
	log := logger_mock.NewMockInterface(ctrl)
	return NewBook(log), log
}

func TestNewBook(t *testing.T) {
	book, _ := newTestBook(t)

	assert.True(t, book.Empty())
	assert.Equal(t, 0, book.BidDepth())
	assert.Equal(t, 0, book.AskDepth())

	_, ok := book.BestBid()
	assert.False(t, ok)
	_, ok = book.BestAsk()
	assert.False(t, ok)
}

// Snapshot then incremental delete: best bid falls back to the next level.
func TestBook_SnapshotThenIncremental(t *testing.T) {
	book, _ := newTestBook(t)

	book.LoadSnapshot(
		[]marketdatav1.Level{
			{Price: 100.50, Quantity: 1000},
			{Price: 100.25, Quantity: 2000},
		},
		[]marketdatav1.Level{
			{Price: 100.75, Quantity: 800},
		},
	)

	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, marketdatav1.Level{Price: 100.50, Quantity: 1000}, bid)

	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, marketdatav1.Level{Price: 100.75, Quantity: 800}, ask)

	// delete the best bid level
	require.NoError(t, book.ApplyUpdate(marketdatav1.SideBid, 100.50, 0))

	bid, ok = book.BestBid()
	require.True(t, ok)
	assert.Equal(t, marketdatav1.Level{Price: 100.25, Quantity: 2000}, bid)
	assert.Equal(t, 1, book.BidDepth())
}

func TestBook_LoadSnapshotReplacesAndDropsZeroQuantity(t *testing.T) {
	book, _ := newTestBook(t)

	book.LoadSnapshot(
		[]marketdatav1.Level{{Price: 99, Quantity: 10}},
		[]marketdatav1.Level{{Price: 101, Quantity: 10}},
	)
	book.LoadSnapshot(
		[]marketdatav1.Level{
			{Price: 100, Quantity: 5},
			{Price: 98, Quantity: 0}, // holes are dropped
		},
		nil,
	)

	assert.Equal(t, 1, book.BidDepth())
	assert.Equal(t, 0, book.AskDepth())

	bid, _ := book.BestBid()
	assert.Equal(t, float32(100), bid.Price)
}

func TestBook_ApplyUpdate(t *testing.T) {
	testCases := []struct {
		name     string
		setup    func(b *Book)
		side     marketdatav1.Side
		price    float32
		quantity int64
		wantErr  error
		check    func(t *testing.T, b *Book)
	}{
		{
			name:     "insert level",
			side:     marketdatav1.SideBid,
			price:    100,
			quantity: 10,
			check: func(t *testing.T, b *Book) {
				bid, ok := b.BestBid()
				require.True(t, ok)
				assert.Equal(t, uint64(10), bid.Quantity)
			},
		},
		{
			name: "overwrite level",
			setup: func(b *Book) {
				require.NoError(t, b.ApplyUpdate(marketdatav1.SideAsk, 101, 5))
			},
			side:     marketdatav1.SideAsk,
			price:    101,
			quantity: 7,
			check: func(t *testing.T, b *Book) {
				ask, _ := b.BestAsk()
				assert.Equal(t, uint64(7), ask.Quantity)
				assert.Equal(t, 1, b.AskDepth())
			},
		},
		{
			name: "delete existing level",
			setup: func(b *Book) {
				require.NoError(t, b.ApplyUpdate(marketdatav1.SideBid, 100, 10))
			},
			side:     marketdatav1.SideBid,
			price:    100,
			quantity: 0,
			check: func(t *testing.T, b *Book) {
				assert.True(t, b.Empty())
			},
		},
		{
			name:     "delete absent level is a no-op",
			side:     marketdatav1.SideBid,
			price:    100,
			quantity: 0,
			check: func(t *testing.T, b *Book) {
				assert.True(t, b.Empty())
			},
		},
		{
			name:     "negative quantity rejected",
			side:     marketdatav1.SideAsk,
			price:    100,
			quantity: -5,
			wantErr:  ErrNegativeQuantity,
			check: func(t *testing.T, b *Book) {
				assert.True(t, b.Empty())
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			log := logger_mock.NewMockInterface(ctrl)
			if tc.wantErr != nil {
				log.EXPECT().Warn(gomock.Any(), gomock.Any()).Times(1)
			}
			book := NewBook(log)

			if tc.setup != nil {
				tc.setup(book)
			}

			err := book.ApplyUpdate(tc.side, tc.price, tc.quantity)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			tc.check(t, book)
		})
	}
}

// No zero-quantity level ever persists; best bid is the maximum bid price,
// best ask the minimum ask price.
func TestBook_Invariants(t *testing.T) {
	book, _ := newTestBook(t)

	prices := []float32{101, 99, 103, 100, 102}
	for i, p := range prices {
		require.NoError(t, book.ApplyUpdate(marketdatav1.SideBid, p, int64(i+1)))
		require.NoError(t, book.ApplyUpdate(marketdatav1.SideAsk, p+10, int64(i+1)))
	}

	bid, _ := book.BestBid()
	assert.Equal(t, float32(103), bid.Price)
	ask, _ := book.BestAsk()
	assert.Equal(t, float32(109), ask.Price)

	for _, l := range append(book.TopBids(10), book.TopAsks(10)...) {
		assert.NotZero(t, l.Quantity)
	}
}

func TestBook_TopN(t *testing.T) {
	book, _ := newTestBook(t)

	for _, p := range []float32{100, 101, 102, 103} {
		require.NoError(t, book.ApplyUpdate(marketdatav1.SideBid, p, 1))
		require.NoError(t, book.ApplyUpdate(marketdatav1.SideAsk, p+10, 1))
	}

	bids := book.TopBids(2)
	require.Len(t, bids, 2)
	assert.Equal(t, float32(103), bids[0].Price)
	assert.Equal(t, float32(102), bids[1].Price)

	asks := book.TopAsks(2)
	require.Len(t, asks, 2)
	assert.Equal(t, float32(110), asks[0].Price)
	assert.Equal(t, float32(111), asks[1].Price)

	// asking for more than the depth returns what exists
	assert.Len(t, book.TopBids(100), 4)

	gotBids, gotAsks := book.TopOfBook(3)
	assert.Len(t, gotBids, 3)
	assert.Len(t, gotAsks, 3)
}

func TestBook_Clear(t *testing.T) {
	book, _ := newTestBook(t)

	require.NoError(t, book.ApplyUpdate(marketdatav1.SideBid, 100, 10))
	require.NoError(t, book.ApplyUpdate(marketdatav1.SideAsk, 101, 10))
	require.False(t, book.Empty())

	book.Clear()
	assert.True(t, book.Empty())
}

// Crossed books are not rejected here; higher layers decide.
func TestBook_PermitsCrossedBook(t *testing.T) {
	book, _ := newTestBook(t)

	require.NoError(t, book.ApplyUpdate(marketdatav1.SideBid, 102, 10))
	require.NoError(t, book.ApplyUpdate(marketdatav1.SideAsk, 101, 10))

	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	assert.Greater(t, bid.Price, ask.Price)
}

// Prices are compared as binary32 keys: distinct float64 inputs that share a
// binary32 representation hit the same level.
func TestBook_Binary32PriceKeys(t *testing.T) {
	book, _ := newTestBook(t)

	p1 := float32(100.10000001)
	p2 := float32(100.10000002) // same binary32 value
	require.Equal(t, p1, p2)

	require.NoError(t, book.ApplyUpdate(marketdatav1.SideBid, p1, 10))
	require.NoError(t, book.ApplyUpdate(marketdatav1.SideBid, p2, 20))

	assert.Equal(t, 1, book.BidDepth())
	bid, _ := book.BestBid()
	assert.Equal(t, uint64(20), bid.Quantity)
}
