package retry

import (
	"testing"

	"conveyor/internal/jobs"
)

func item(code string) jobs.ItemSpec {
	return jobs.ItemSpec{Platform: "steam", Code: code}
}

func TestOfferIsIdempotent(t *testing.T) {
	q := New()
	q.Offer(item("alpha"))
	q.Offer(item("beta"))
	q.Offer(item("alpha"))

	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
	codes := q.Codes()
	if codes[0] != "alpha" || codes[1] != "beta" {
		t.Errorf("codes = %v, want [alpha beta]", codes)
	}
}

func TestDrainPreservesInsertionOrder(t *testing.T) {
	q := New()
	for _, code := range []string{"gamma", "alpha", "beta"} {
		q.Offer(item(code))
	}

	var drained []string
	for it := range q.Drain() {
		drained = append(drained, it.Code)
	}
	if len(drained) != 3 || drained[0] != "gamma" || drained[1] != "alpha" || drained[2] != "beta" {
		t.Errorf("drained = %v, want [gamma alpha beta]", drained)
	}
	if q.Len() != 0 {
		t.Errorf("len after drain = %d, want 0", q.Len())
	}
}

func TestDrainPicksUpMidDrainOffers(t *testing.T) {
	q := New()
	q.Offer(item("alpha"))
	q.Offer(item("beta"))

	var drained []string
	for it := range q.Drain() {
		drained = append(drained, it.Code)
		if it.Code == "alpha" {
			// A retry that fails again lands back in the queue.
			q.Offer(item("alpha-again"))
		}
	}
	if len(drained) != 3 || drained[2] != "alpha-again" {
		t.Errorf("drained = %v, want requeued item last", drained)
	}
}

func TestDrainBreakLeavesRemainder(t *testing.T) {
	q := New()
	q.Offer(item("alpha"))
	q.Offer(item("beta"))
	q.Offer(item("gamma"))

	for it := range q.Drain() {
		if it.Code == "alpha" {
			break
		}
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2 after break", q.Len())
	}
	if !q.Contains("beta") || !q.Contains("gamma") {
		t.Errorf("remaining codes = %v", q.Codes())
	}
}

func TestTake(t *testing.T) {
	q := New()
	q.Offer(item("alpha"))
	q.Offer(item("beta"))

	got, ok := q.Take("alpha")
	if !ok || got.Code != "alpha" {
		t.Fatalf("Take = %v, %v", got, ok)
	}
	if _, ok := q.Take("alpha"); ok {
		t.Error("second Take of same code succeeded")
	}
	if q.Len() != 1 {
		t.Errorf("len = %d, want 1", q.Len())
	}
}
