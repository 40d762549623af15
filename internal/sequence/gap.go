package sequence

import "github.com/tidwall/btree"

// GapOutcome classifies one observation on an unreliable feed.
type GapOutcome uint8

const (
	// GapFirst is the first sequence observed.
	GapFirst GapOutcome = iota
	// GapInOrder is the expected next sequence.
	GapInOrder
	// GapFilled is a late arrival that erased a missing sequence.
	GapFilled
	// GapDetected means sequences were skipped and recorded as missing;
	// GapResult.Missing counts them.
	GapDetected
	// GapDuplicate is a repeat of an already-received sequence.
	GapDuplicate
)

// GapResult is the classification of one observation.
type GapResult struct {
	Outcome GapOutcome
	Missing uint64
}

// Range is an inclusive [Start, End] run of missing sequences.
type Range struct {
	Start uint64
	End   uint64
}

// GapTracker maintains the set of missing sequence numbers of a feed that
// may drop, duplicate, or reorder frames. Single-threaded per instance.
type GapTracker struct {
	missing       btree.Set[uint64]
	last          uint64
	firstReceived bool
	totalGaps     uint64
}

// NewGapTracker creates an empty gap tracker.
func NewGapTracker() *GapTracker {
	return &GapTracker{}
}

// Observe classifies seq and updates the missing set.
func (g *GapTracker) Observe(seq uint64) GapResult {
	if !g.firstReceived {
		g.last = seq
		g.firstReceived = true
		return GapResult{Outcome: GapFirst}
	}

	switch {
	case seq == g.last+1:
		g.last = seq
		// A 1-gap can be re-announced by a retransmit that lands exactly
		// in order; clear it from the missing set.
		if g.missing.Contains(seq) {
			g.missing.Delete(seq)
			return GapResult{Outcome: GapFilled}
		}
		return GapResult{Outcome: GapInOrder}

	case seq > g.last+1:
		missing := seq - g.last - 1
		for s := g.last + 1; s < seq; s++ {
			g.missing.Insert(s)
			g.totalGaps++
		}
		g.last = seq
		return GapResult{Outcome: GapDetected, Missing: missing}

	default: // seq <= last
		if g.missing.Contains(seq) {
			g.missing.Delete(seq)
			return GapResult{Outcome: GapFilled}
		}
		return GapResult{Outcome: GapDuplicate}
	}
}

// GapRanges coalesces the missing set into contiguous inclusive ranges, in
// ascending order. Used to build retransmit requests.
func (g *GapTracker) GapRanges() []Range {
	if g.missing.Len() == 0 {
		return nil
	}

	ranges := make([]Range, 0, 4)
	var cur Range
	started := false

	g.missing.Scan(func(seq uint64) bool {
		if !started {
			cur = Range{Start: seq, End: seq}
			started = true
			return true
		}
		if seq == cur.End+1 {
			cur.End = seq
			return true
		}
		ranges = append(ranges, cur)
		cur = Range{Start: seq, End: seq}
		return true
	})

	return append(ranges, cur)
}

// ActiveGaps returns the current number of missing sequences.
func (g *GapTracker) ActiveGaps() int {
	return g.missing.Len()
}

// TotalGaps returns the cumulative count of sequences ever marked missing.
func (g *GapTracker) TotalGaps() uint64 {
	return g.totalGaps
}

// LastSequence returns the highest sequence observed, if any.
func (g *GapTracker) LastSequence() (uint64, bool) {
	if !g.firstReceived {
		return 0, false
	}
	return g.last, true
}

// Reset returns the tracker to its initial state.
func (g *GapTracker) Reset() {
	g.missing.Clear()
	g.last = 0
	g.firstReceived = false
	g.totalGaps = 0
}
