// Package broker owns the named channels of an osyncq process.
//
// A channel is the pair of FIFOs one engine and one plugin talk over:
//
//	<dir>/<name>-req   engine → plugin requests
//	<dir>/<name>-rep   plugin → engine replies
//
// The CLI and the admin server talk to the Broker, never to the queue layer
// directly. The broker creates the FIFOs, wires the process-wide observers
// (metrics, journal, websocket tap) and logger into every queue, and tears
// everything down on Close.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/snehjoshi/osyncq/internal/queue"
)

// ─── Error sentinels ──────────────────────────────────────────────────────────

var (
	// ErrInvalidName is returned when a channel name fails validation.
	ErrInvalidName = errors.New("broker: invalid channel name")
	// ErrExists is returned by OpenChannel for a name already open.
	ErrExists = errors.New("broker: channel already open")
	// ErrNotFound is returned for an unknown channel name.
	ErrNotFound = errors.New("broker: channel not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("broker: closed")
)

// nameRe validates channel names: 1–64 chars, lowercase letters/digits/hyphens,
// must start with a letter or digit. Names become file names.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{0,63}$`)

// ValidateName reports whether name is a legal channel name.
func ValidateName(name string) bool { return nameRe.MatchString(name) }

// ─── Option / functional options ─────────────────────────────────────────────

// Option is a functional option for the Broker.
type Option func(*Broker)

// WithLogger sets the logger handed to every queue.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.log = l
		}
	}
}

// WithObservers attaches observers to every queue the broker opens.
func WithObservers(obs ...queue.Observer) Option {
	return func(b *Broker) { b.observers = append(b.observers, obs...) }
}

// WithPollIntervals sets the queue poll bounds.
func WithPollIntervals(sender, receiver time.Duration) Option {
	return func(b *Broker) { b.qopts = append(b.qopts, queue.WithPollIntervals(sender, receiver)) }
}

// WithDefaultTimeout sets the reply timeout for requests sent without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(b *Broker) { b.qopts = append(b.qopts, queue.WithDefaultTimeout(d)) }
}

// WithMaxPayload caps the payload accepted from peers.
func WithMaxPayload(n int) Option {
	return func(b *Broker) { b.qopts = append(b.qopts, queue.WithMaxPayload(n)) }
}

// ─── Broker ───────────────────────────────────────────────────────────────────

// ChannelInfo is a snapshot of one channel, used by the admin API.
type ChannelInfo struct {
	Name     string      `json:"name"`
	Side     Side        `json:"side"`
	Request  queue.Stats `json:"request"`
	Reply    queue.Stats `json:"reply"`
	OpenedAt time.Time   `json:"opened_at"`
}

// Broker is a registry of open channels. All methods are safe for concurrent
// use.
type Broker struct {
	dir       string
	log       *slog.Logger
	observers []queue.Observer
	qopts     []queue.Option

	mu       sync.RWMutex
	channels map[string]*Channel
	closed   bool
}

// New returns a Broker that keeps its FIFOs in dir.
func New(dir string, opts ...Option) *Broker {
	b := &Broker{
		dir:      dir,
		log:      slog.New(slog.DiscardHandler),
		channels: make(map[string]*Channel),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Dir returns the FIFO directory.
func (b *Broker) Dir() string { return b.dir }

// Paths returns the request and reply FIFO paths for a channel name.
func (b *Broker) Paths(name string) (req, rep string) {
	return filepath.Join(b.dir, name+"-req"), filepath.Join(b.dir, name+"-rep")
}

// OpenChannel creates the channel's FIFOs if needed and returns the channel,
// unconnected. Call Connect on it to open the pipes.
func (b *Broker) OpenChannel(name string, side Side) (*Channel, error) {
	if !ValidateName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.channels[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	}

	c, err := b.newChannel(name, side)
	if err != nil {
		return nil, err
	}
	b.channels[name] = c
	b.log.Info("channel opened", "channel", name, "side", side, "dir", b.dir)
	return c, nil
}

// Channel returns the open channel called name.
func (b *Broker) Channel(name string) (*Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return c, nil
}

// CloseChannel disconnects the channel, removes any FIFOs the broker created
// and forgets the name.
func (b *Broker) CloseChannel(name string) error {
	b.mu.Lock()
	c, ok := b.channels[name]
	delete(b.channels, name)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	err := c.close()
	b.log.Info("channel closed", "channel", name)
	return err
}

// Channels returns a snapshot of every open channel sorted by name.
func (b *Broker) Channels() []ChannelInfo {
	b.mu.RLock()
	out := make([]ChannelInfo, 0, len(b.channels))
	for _, c := range b.channels {
		out = append(out, c.Info())
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every channel. Further OpenChannel calls fail with ErrClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	chans := make([]*Channel, 0, len(b.channels))
	for _, c := range b.channels {
		chans = append(chans, c)
	}
	clear(b.channels)
	b.mu.Unlock()

	var errs []error
	for _, c := range chans {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
