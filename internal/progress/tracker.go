package progress

// Tracker accumulates completion evidence for one worker invocation and
// converts it into non-negative percentage deltas.
//
// Deltas are computed against the invocation's total item count and clamped
// so the cumulative reported percentage never decreases and never exceeds
// 100. A zero total disables the tracker entirely. Trackers are not safe for
// concurrent use; each invocation owns one.
type Tracker struct {
	total        int
	lastReported int
	done         int
	beaconSeen   bool
	glyphCount   int
}

// NewTracker returns a tracker for an invocation covering total items.
func NewTracker(total int) *Tracker {
	return &Tracker{total: total}
}

// Observe processes one stdout line and returns the progress delta it
// yields, which is zero for most lines.
func (t *Tracker) Observe(line string) int {
	if t.total <= 0 {
		return 0
	}

	done, result := parseBeacon(line)
	switch {
	case result == beaconOK:
		t.beaconSeen = true
		if done > t.done {
			t.done = done
		}
	case t.beaconSeen:
		// Beacons are authoritative once seen; glyphs and broken
		// payloads no longer contribute.
		return 0
	default:
		glyphs := countGlyphs(line)
		if glyphs == 0 {
			return 0
		}
		t.glyphCount += glyphs
		if t.glyphCount > t.done {
			t.done = t.glyphCount
		}
	}

	return t.advance()
}

// advance converts the current done count into a delta against the last
// reported percentage.
func (t *Tracker) advance() int {
	target := (100 * t.done) / t.total
	delta := target - t.lastReported
	if delta <= 0 {
		return 0
	}
	if remaining := 100 - t.lastReported; delta > remaining {
		delta = remaining
	}
	t.lastReported += delta
	return delta
}

// Reported returns the cumulative percentage emitted so far.
func (t *Tracker) Reported() int {
	return t.lastReported
}

// Done returns the highest completion count observed so far.
func (t *Tracker) Done() int {
	return t.done
}
