package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_FirstMessage(t *testing.T) {
	tr := NewTracker()

	_, ok := tr.LastSequence()
	assert.False(t, ok)

	result := tr.Track(10)
	assert.Equal(t, First, result.Outcome)

	last, ok := tr.LastSequence()
	require.True(t, ok)
	assert.Equal(t, uint64(10), last)
}

// Sequences 1,2,3,7: first, inOrder, inOrder, gap(3); one gap; last 7.
func TestTracker_GapDetection(t *testing.T) {
	tr := NewTracker()

	assert.Equal(t, First, tr.Track(1).Outcome)
	assert.Equal(t, InOrder, tr.Track(2).Outcome)
	assert.Equal(t, InOrder, tr.Track(3).Outcome)

	result := tr.Track(7)
	assert.Equal(t, Gap, result.Outcome)
	assert.Equal(t, uint64(3), result.Missing)

	assert.Equal(t, uint64(1), tr.GapsDetected())
	last, _ := tr.LastSequence()
	assert.Equal(t, uint64(7), last)
}

// Sequences 1,2,2: the duplicate neither moves last_seq nor counts a gap.
func TestTracker_DuplicatePreservesLastSequence(t *testing.T) {
	tr := NewTracker()

	assert.Equal(t, First, tr.Track(1).Outcome)
	assert.Equal(t, InOrder, tr.Track(2).Outcome)
	assert.Equal(t, DuplicateOrOld, tr.Track(2).Outcome)

	last, _ := tr.LastSequence()
	assert.Equal(t, uint64(2), last)
	assert.Equal(t, uint64(0), tr.GapsDetected())
}

func TestTracker_OutOfOrderDoesNotRewind(t *testing.T) {
	tr := NewTracker()

	tr.Track(5)
	tr.Track(6)
	assert.Equal(t, DuplicateOrOld, tr.Track(3).Outcome)

	last, _ := tr.LastSequence()
	assert.Equal(t, uint64(6), last)
}

// last_seq never decreases except across Reset.
func TestTracker_Monotonicity(t *testing.T) {
	tr := NewTracker()
	inputs := []uint64{3, 4, 2, 9, 9, 1, 10, 5}

	var prev uint64
	for i, seq := range inputs {
		tr.Track(seq)
		last, ok := tr.LastSequence()
		require.True(t, ok)
		if i > 0 {
			assert.GreaterOrEqual(t, last, prev, "after input %d", seq)
		}
		prev = last
	}
}

func TestTracker_ResetKeepsGapCounter(t *testing.T) {
	tr := NewTracker()

	tr.Track(1)
	tr.Track(5) // gap
	require.Equal(t, uint64(1), tr.GapsDetected())

	tr.Reset()
	_, ok := tr.LastSequence()
	assert.False(t, ok)
	// the counter is cumulative across reconnects
	assert.Equal(t, uint64(1), tr.GapsDetected())

	// fresh stream after reset: first message, then another gap accumulates
	assert.Equal(t, First, tr.Track(100).Outcome)
	tr.Track(105)
	assert.Equal(t, uint64(2), tr.GapsDetected())
}
