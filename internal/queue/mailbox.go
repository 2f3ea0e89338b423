package queue

import (
	"container/list"
	"sync"

	"github.com/snehjoshi/osyncq/internal/message"
)

// mailbox is an unbounded FIFO of messages shared between the caller and the
// queue's goroutines.
//
// ready has capacity 1 and is signalled on every push, so a consumer blocked
// in select wakes up without polling. A consumer that pops and leaves items
// behind re-signals so that other waiters are not starved.
type mailbox struct {
	mu     sync.Mutex
	l      *list.List // elements are *message.Message
	closed bool
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{l: list.New(), ready: make(chan struct{}, 1)}
}

func (mb *mailbox) signal() {
	select {
	case mb.ready <- struct{}{}:
	default:
	}
}

// push appends m. It returns false once the mailbox has been closed; the
// caller keeps ownership of m in that case.
func (mb *mailbox) push(m *message.Message) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.l.PushBack(m)
	mb.mu.Unlock()
	mb.signal()
	return true
}

// pop removes the oldest message.
func (mb *mailbox) pop() (*message.Message, bool) {
	mb.mu.Lock()
	front := mb.l.Front()
	if front == nil {
		mb.mu.Unlock()
		return nil, false
	}
	mb.l.Remove(front)
	more := mb.l.Len() > 0
	mb.mu.Unlock()
	if more {
		mb.signal()
	}
	return front.Value.(*message.Message), true
}

func (mb *mailbox) len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.l.Len()
}

// close rejects further pushes and returns whatever was still queued.
func (mb *mailbox) close() []*message.Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed = true
	out := make([]*message.Message, 0, mb.l.Len())
	for e := mb.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*message.Message))
	}
	mb.l.Init()
	return out
}
