// Package sequence classifies streams of message sequence numbers: the
// Tracker enforces at-most-once delivery on an ordered transport, and the
// GapTracker maintains the missing-sequence set of an unreliable one.
package sequence

const sentinel = ^uint64(0)

// Outcome classifies one observed sequence number.
type Outcome uint8

const (
	// First is the first sequence observed since creation or Reset.
	First Outcome = iota
	// InOrder is the expected next sequence.
	InOrder
	// Gap means one or more sequences were skipped; Result.Missing counts them.
	Gap
	// DuplicateOrOld is a sequence at or below the last observed one.
	DuplicateOrOld
)

// Result is the classification of one observation.
type Result struct {
	Outcome Outcome
	// Missing is the number of skipped sequences when Outcome is Gap.
	Missing uint64
}

// Tracker tracks a monotonic per-producer sequence stream. It is
// single-threaded per instance.
type Tracker struct {
	last uint64 // sentinel means no message seen yet
	gaps uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{last: sentinel}
}

// Track classifies seq and updates the tracker state. The last observed
// sequence never decreases except across Reset; duplicates and out-of-order
// inputs do not update it.
func (t *Tracker) Track(seq uint64) Result {
	if t.last == sentinel {
		t.last = seq
		return Result{Outcome: First}
	}

	expected := t.last + 1
	switch {
	case seq == expected:
		t.last = seq
		return Result{Outcome: InOrder}
	case seq > expected:
		missing := seq - expected
		t.gaps++
		t.last = seq
		return Result{Outcome: Gap, Missing: missing}
	default:
		return Result{Outcome: DuplicateOrOld}
	}
}

// Reset clears the last observed sequence, e.g. after a reconnect. The gap
// counter is cumulative across resets to preserve operational visibility.
func (t *Tracker) Reset() {
	t.last = sentinel
}

// LastSequence returns the last observed sequence, if any.
func (t *Tracker) LastSequence() (uint64, bool) {
	if t.last == sentinel {
		return 0, false
	}
	return t.last, true
}

// GapsDetected returns the cumulative gap count.
func (t *Tracker) GapsDetected() uint64 {
	return t.gaps
}
