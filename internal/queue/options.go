package queue

import (
	"log/slog"
	"time"

	"github.com/snehjoshi/osyncq/internal/wire"
)

// Default poll bounds. A sender mostly pushes and wants to notice a dead peer
// quickly; a receiver mostly waits.
const (
	DefaultSenderPoll   = 10 * time.Millisecond
	DefaultReceiverPoll = 100 * time.Millisecond
)

// readBatch caps how many frames the reader pulls per wake-up before it
// re-checks for shutdown.
const readBatch = 64

type options struct {
	logger         *slog.Logger
	observer       Observer
	senderPoll     time.Duration
	receiverPoll   time.Duration
	maxPayload     int
	defaultTimeout time.Duration
	id             string
}

func defaultOptions() options {
	return options{
		logger:       slog.New(slog.DiscardHandler),
		observer:     nopObserver{},
		senderPoll:   DefaultSenderPoll,
		receiverPoll: DefaultReceiverPoll,
		maxPayload:   wire.MaxPayload,
	}
}

// Option configures a Queue.
type Option func(*options)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver attaches an Observer that sees every frame and lifecycle
// event. Use Observers to attach several.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithPollIntervals overrides how long the reader blocks in poll for each
// role. Zero keeps the default.
func WithPollIntervals(sender, receiver time.Duration) Option {
	return func(o *options) {
		if sender > 0 {
			o.senderPoll = sender
		}
		if receiver > 0 {
			o.receiverPoll = receiver
		}
	}
}

// WithMaxPayload caps the payload size accepted from the peer.
func WithMaxPayload(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPayload = n
		}
	}
}

// WithDefaultTimeout applies d to every Send whose message carries a reply
// handler. SendWithTimeout always uses its explicit argument.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.defaultTimeout = d }
}

// WithID fixes the queue's identifier instead of generating a ULID.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}
