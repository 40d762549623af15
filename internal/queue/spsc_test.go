package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPSC_CapacityRounding(t *testing.T) {
	testCases := []struct {
		requested int
		rounded   int
	}{
		{requested: 0, rounded: 2},
		{requested: 1, rounded: 2},
		{requested: 2, rounded: 2},
		{requested: 3, rounded: 4},
		{requested: 1000, rounded: 1024},
		{requested: 1024, rounded: 1024},
	}

	for _, tc := range testCases {
		q := NewSPSC[int](tc.requested)
		assert.Equal(t, tc.rounded, q.Capacity(), "requested %d", tc.requested)
	}
}

func TestSPSC_PushPop(t *testing.T) {
	q := NewSPSC[string](8)

	require.True(t, q.Push("a"))
	require.True(t, q.Push("b"))
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.Empty())

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = q.Pop()
	assert.False(t, ok)
	assert.True(t, q.Empty())
}

// A queue of capacity C accepts at most C-1 unpopped items.
func TestSPSC_UsableCapacity(t *testing.T) {
	q := NewSPSC[int](8)

	for i := 0; i < 7; i++ {
		require.True(t, q.Push(i), "push %d", i)
	}
	assert.False(t, q.Push(7), "push beyond capacity-1 must fail")

	// popping one frees exactly one slot
	_, ok := q.Pop()
	require.True(t, ok)
	assert.True(t, q.Push(7))
	assert.False(t, q.Push(8))
}

func TestSPSC_WrapAround(t *testing.T) {
	q := NewSPSC[int](4)

	next := 0
	for round := 0; round < 100; round++ {
		require.True(t, q.Push(next))
		require.True(t, q.Push(next+1))

		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, next, v)

		v, ok = q.Pop()
		require.True(t, ok)
		assert.Equal(t, next+1, v)

		next += 2
	}
}

// One producer, one consumer: the consumer observes the exact input sequence.
func TestSPSC_FIFOUnderConcurrency(t *testing.T) {
	const n = 200000
	q := NewSPSC[int](1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !q.Push(i) {
			}
		}
	}()

	out := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for len(out) < n {
			if v, ok := q.Pop(); ok {
				out = append(out, v)
			}
		}
	}()

	wg.Wait()

	require.Len(t, out, n)
	for i, v := range out {
		require.Equal(t, i, v, "out of order at %d", i)
	}
}

func TestSPMC_PushPop(t *testing.T) {
	q := NewSPMC[int](8)

	for i := 0; i < 7; i++ {
		require.True(t, q.Push(i))
	}
	assert.False(t, q.Push(7))

	for i := 0; i < 7; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

// Multiple consumers drain every item exactly once; FIFO holds across the
// queue as a whole even though per-consumer order does not.
func TestSPMC_MultiConsumerExactlyOnce(t *testing.T) {
	const (
		n         = 100000
		consumers = 4
	)
	q := NewSPMC[int](1024)

	var wg sync.WaitGroup
	results := make([][]int, consumers)
	producerDone := make(chan struct{})

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			local := make([]int, 0, n/consumers)
			for {
				if v, ok := q.Pop(); ok {
					local = append(local, v)
					continue
				}
				select {
				case <-producerDone:
					// the producer is done; an empty pop now is final
					if v, ok := q.Pop(); ok {
						local = append(local, v)
						continue
					}
					results[id] = local
					return
				default:
				}
			}
		}(c)
	}

	for i := 0; i < n; i++ {
		for !q.Push(i) {
		}
	}
	close(producerDone)
	wg.Wait()

	seen := make(map[int]int, n)
	for _, local := range results {
		for _, v := range local {
			seen[v]++
		}
	}
	require.Len(t, seen, n)
	for v, count := range seen {
		require.Equal(t, 1, count, "value %d consumed %d times", v, count)
	}
}
