package comms

import (
	"sync"

	"github.com/blotkit/goblot/internal/queue"
)

// DefaultQueueSize is the number of records the queue holds before it
// starts overwriting the oldest.
const DefaultQueueSize = 10

// Queue is the bounded ring of outbound records shared by the client and
// the driver.
//
// All methods hold the queue lock for their whole duration and never
// perform I/O. Callback arguments receive record pointers that are valid
// only for the duration of the callback.
type Queue struct {
	mu   sync.Mutex
	ring *queue.Ring[*Record]
}

// NewQueue creates a queue of the given capacity. It panics if capacity < 1.
func NewQueue(capacity int) *Queue {
	return &Queue{ring: queue.NewRing[*Record](capacity)}
}

// Push inserts rec at the write cursor. The queue takes ownership of rec.
//
// When the queue is full the oldest record is overwritten regardless of its
// state; a copy of it is returned with ok set to true.
func (q *Queue) Push(rec *Record) (evicted Record, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	old, ok := q.ring.Push(rec)
	if !ok || old == nil {
		return Record{}, false
	}

	return *old, true
}

// Find returns a copy of the oldest record matching pred.
func (q *Queue) Find(pred func(r *Record) bool) (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		found Record
		ok    bool
	)
	q.ring.Each(func(_ int, r *Record) bool {
		if pred(r) {
			found, ok = *r, true
			return false
		}

		return true
	})

	return found, ok
}

// Update calls fn for each record from oldest to newest until fn returns false.
// fn may mutate the record in place.
func (q *Queue) Update(fn func(r *Record) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ring.Each(func(_ int, r *Record) bool {
		return fn(r)
	})
}

// FindByID returns a copy of the record with the given identity.
func (q *Queue) FindByID(id ID) (Record, bool) {
	return q.Find(func(r *Record) bool { return r.id == id })
}

// Resolve marks the oldest Sent record holding index as Resolved and
// returns a copy of it.
func (q *Queue) Resolve(index uint8) (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		resolved Record
		ok       bool
	)
	q.ring.Each(func(_ int, r *Record) bool {
		if r.state == StateSent && r.hasIndex && r.index == index {
			r.state = StateResolved
			resolved, ok = *r, true

			return false
		}

		return true
	})

	return resolved, ok
}

// Snapshot returns copies of all records from oldest to newest.
func (q *Queue) Snapshot() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Record, 0, q.ring.Len())
	q.ring.Each(func(_ int, r *Record) bool {
		out = append(out, *r)
		return true
	})

	return out
}

// Count returns the number of records in state s.
func (q *Queue) Count(s State) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	q.ring.Each(func(_ int, r *Record) bool {
		if r.state == s {
			n++
		}

		return true
	})

	return n
}

// Len returns the number of records in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.Len()
}

// Cap returns the fixed capacity of the queue.
func (q *Queue) Cap() int {
	return q.ring.Cap()
}
