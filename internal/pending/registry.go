// Package pending tracks requests that are waiting for a reply.
//
// Every entry leaves the registry exactly once, through Take (a reply
// arrived), TakeExpired (its deadline passed) or DrainAll (the connection
// died). Removal happens under the registry lock and the caller only runs
// the handler after the lock is released, so two paths can never both fire
// the same handler.
package pending

import (
	"container/heap"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/snehjoshi/osyncq/internal/message"
)

// ErrDuplicate is returned by Add when the id is already registered.
var ErrDuplicate = errors.New("pending: correlation id already registered")

// Entry is one outstanding request.
type Entry struct {
	ID      int64
	Handler message.ReplyHandler
	// Request is the message that was sent, if the caller kept it. It is
	// marked answered when the entry resolves.
	Request *message.Message
	// Deadline is zero when the request never times out.
	Deadline time.Time

	heapIdx int
}

// Resolve marks the request answered and hands reply to the handler.
func (e Entry) Resolve(reply *message.Message) {
	if e.Request != nil {
		e.Request.SetAnswered()
	}
	if e.Handler != nil {
		e.Handler(reply)
	}
}

// Registry maps correlation ids to pending entries. All methods are safe for
// concurrent use.
type Registry struct {
	mu   sync.Mutex
	byID map[int64]*Entry
	h    deadlineHeap

	// changed has capacity 1. It is signalled whenever a newly added entry
	// becomes the earliest deadline, so a waiting Watch loop re-arms its timer.
	changed chan struct{}
}

// New returns an empty Registry.
func New() *Registry {
	h := make(deadlineHeap, 0, 16)
	heap.Init(&h)
	return &Registry{
		byID:    make(map[int64]*Entry),
		h:       h,
		changed: make(chan struct{}, 1),
	}
}

// Register adds an entry under a freshly generated correlation id and
// returns the id. A zero deadline means the entry never expires.
func (r *Registry) Register(h message.ReplyHandler, req *message.Message, deadline time.Time) int64 {
	r.mu.Lock()
	id := NewID()
	for {
		if _, taken := r.byID[id]; !taken && id != 0 {
			break
		}
		id = NewID()
	}
	r.insertLocked(&Entry{ID: id, Handler: h, Request: req, Deadline: deadline})
	r.mu.Unlock()
	return id
}

// Add inserts e under its own id. It fails with ErrDuplicate rather than
// replacing a live entry.
func (r *Registry) Add(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[e.ID]; ok {
		return ErrDuplicate
	}
	r.insertLocked(&e)
	return nil
}

// insertLocked stores e. MUST be called with r.mu held.
func (r *Registry) insertLocked(e *Entry) {
	e.heapIdx = -1
	r.byID[e.ID] = e
	if e.Deadline.IsZero() {
		return
	}
	heap.Push(&r.h, e)
	if r.h[0] == e {
		select {
		case r.changed <- struct{}{}:
		default:
		}
	}
}

// Take removes and returns the entry for id.
func (r *Registry) Take(id int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return Entry{}, false
	}
	delete(r.byID, id)
	r.h.remove(e)
	return *e, true
}

// TakeExpired removes and returns every entry whose deadline is at or before
// now, soonest first.
func (r *Registry) TakeExpired(now time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for r.h.Len() > 0 && !r.h[0].Deadline.After(now) {
		e := heap.Pop(&r.h).(*Entry)
		delete(r.byID, e.ID)
		out = append(out, *e)
	}
	return out
}

// DrainAll removes and returns every entry in registration order.
func (r *Registry) DrainAll() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, *e)
	}
	clear(r.byID)
	clear(r.h)
	r.h = r.h[:0]
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// IDs returns the ids of all outstanding entries in ascending order without
// removing them.
func (r *Registry) IDs() []int64 {
	r.mu.Lock()
	out := make([]int64, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// Len returns the number of outstanding entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// NextDeadline returns the earliest registered deadline.
func (r *Registry) NextDeadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.h.Len() == 0 {
		return time.Time{}, false
	}
	return r.h[0].Deadline, true
}

// Changed is signalled when an earlier deadline has been registered.
func (r *Registry) Changed() <-chan struct{} { return r.changed }

// Watch sleeps until the earliest deadline, takes every expired entry and
// passes them to expire. It returns when ctx is done. expire runs on the
// Watch goroutine and must not block for long.
func (r *Registry) Watch(ctx context.Context, expire func([]Entry)) {
	var t *time.Timer
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()

	for {
		next, ok := r.NextDeadline()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.changed:
			}
			continue
		}

		delay := time.Until(next)
		if delay <= 0 {
			if due := r.TakeExpired(time.Now()); len(due) > 0 {
				expire(due)
			}
			continue
		}

		if t == nil {
			t = time.NewTimer(delay)
		} else {
			t.Reset(delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-r.changed:
			t.Stop()
		case <-t.C:
			if due := r.TakeExpired(time.Now()); len(due) > 0 {
				expire(due)
			}
		}
	}
}
