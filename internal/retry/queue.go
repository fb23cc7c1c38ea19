// Package retry holds work item codes awaiting individual re-execution.
package retry

import (
	"iter"

	"conveyor/internal/jobs"
)

// Queue is an insertion-ordered, duplicate-free set of work items that
// failed a bulk batch and are waiting for individual retries. It is owned
// by a single orchestration goroutine and is not safe for concurrent use.
type Queue struct {
	order   []string
	members map[string]jobs.ItemSpec
}

// New returns an empty retry queue.
func New() *Queue {
	return &Queue{members: make(map[string]jobs.ItemSpec)}
}

// Offer adds an item to the queue. Offering an item already present is a
// no-op, so whole-batch requeues after a shared failure stay idempotent.
func (q *Queue) Offer(item jobs.ItemSpec) {
	if _, ok := q.members[item.Code]; ok {
		return
	}
	q.members[item.Code] = item
	q.order = append(q.order, item.Code)
}

// Take removes and returns the item for code, if present.
func (q *Queue) Take(code string) (jobs.ItemSpec, bool) {
	item, ok := q.members[code]
	if !ok {
		return jobs.ItemSpec{}, false
	}
	delete(q.members, code)
	for i, c := range q.order {
		if c == code {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return item, true
}

// Contains reports whether code is queued.
func (q *Queue) Contains(code string) bool {
	_, ok := q.members[code]
	return ok
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.order)
}

// Items returns the queued items in insertion order.
func (q *Queue) Items() []jobs.ItemSpec {
	items := make([]jobs.ItemSpec, 0, len(q.order))
	for _, code := range q.order {
		items = append(items, q.members[code])
	}
	return items
}

// Codes returns the queued codes in insertion order.
func (q *Queue) Codes() []string {
	cp := make([]string, len(q.order))
	copy(cp, q.order)
	return cp
}

// Drain yields queued items in insertion order, removing each before it is
// yielded. Items offered while draining are picked up by the same drain, so
// a retry cycle that requeues its own failures continues until the caller
// stops or the queue is empty. Breaking out of the loop leaves the
// remaining items queued.
func (q *Queue) Drain() iter.Seq[jobs.ItemSpec] {
	return func(yield func(jobs.ItemSpec) bool) {
		for len(q.order) > 0 {
			code := q.order[0]
			q.order = q.order[1:]
			item := q.members[code]
			delete(q.members, code)
			if !yield(item) {
				return
			}
		}
	}
}
