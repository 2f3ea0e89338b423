package queue

import (
	"context"
	"sync"
)

// Loop is a single dispatch goroutine shared by several queues. Handlers of
// every queue attached with SetupWithExternalLoop run on it one at a time.
type Loop struct {
	events chan func()
	once   sync.Once
	stop   chan struct{}
}

// NewLoop returns a Loop that is not yet running.
func NewLoop() *Loop {
	return &Loop{events: make(chan func(), 64), stop: make(chan struct{})}
}

// Post schedules fn to run on the loop. It returns false if the loop has
// been stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.stop:
		return false
	}
}

// Run executes posted functions until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case fn := <-l.events:
			fn()
		}
	}
}

// Stop makes Run return. Safe to call more than once.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// forward posts a Dispatch of q whenever q has incoming messages, until ctx
// is done.
func (l *Loop) forward(ctx context.Context, q *Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.incoming.ready:
		}
		select {
		case l.events <- func() { q.Dispatch() }:
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
