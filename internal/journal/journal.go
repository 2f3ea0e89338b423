// Package journal keeps a persistent, time-ordered record of the frames and
// lifecycle events seen by observed queues.
//
// Records are stored in a single bbolt file. Keys are ULIDs, so a cursor walk
// is chronological and pruning deletes from the front. Observer callbacks
// only enqueue; a background writer commits records in batches so the queue
// reactor never waits on disk.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"

	"github.com/snehjoshi/osyncq/internal/ident"
	"github.com/snehjoshi/osyncq/internal/queue"
	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/internal/wire"
)

var bucketFrames = []byte("frames")

var (
	// ErrNotFound is returned by Get for an unknown key.
	ErrNotFound = errors.New("journal: entry not found")
	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal: closed")
)

const (
	defaultBuffer = 4096
	maxBatch      = 256
)

// Journal is a bbolt-backed frame journal. It implements queue.Observer.
type Journal struct {
	db  *bbolt.DB
	log *slog.Logger

	in      chan Entry
	flushes chan chan error
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	mu        sync.RWMutex // guards closed against concurrent enqueue
	closed    bool

	dropped atomic.Int64
}

// Option configures a Journal.
type Option func(*options)

type options struct {
	logger *slog.Logger
	buffer int
	noSync bool
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBuffer sets how many records may wait for the writer before new ones
// are dropped.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithNoSync skips fsync on commit. Records can be lost on a crash.
func WithNoSync() Option {
	return func(o *options) { o.noSync = true }
}

// Open opens (or creates) the journal at path and starts its writer.
func Open(path string, opts ...Option) (*Journal, error) {
	o := options{logger: slog.New(slog.DiscardHandler), buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second, NoSync: o.noSync})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFrames)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init bucket: %w", err)
	}

	j := &Journal{
		db:      db,
		log:     o.logger.With("component", "journal"),
		in:      make(chan Entry, o.buffer),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
	}
	j.wg.Add(1)
	go j.run()
	return j, nil
}

// Close stops the writer after committing everything already enqueued and
// closes the database.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		j.mu.Unlock()
		close(j.done)
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}

// ─── writing ──────────────────────────────────────────────────────────────────

// Record enqueues e for writing. A zero Time is stamped with the current
// time. It reports false if the journal is closed or its buffer is full.
func (j *Journal) Record(e Entry) bool {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return false
	}
	select {
	case j.in <- e:
		return true
	default:
		// Log on powers of two so a stuck writer does not flood the log.
		if n := j.dropped.Add(1); n&(n-1) == 0 {
			j.log.Warn("journal buffer full, dropping records", "dropped", n)
		}
		return false
	}
}

// Flush blocks until every record enqueued before the call is committed.
func (j *Journal) Flush() error {
	ch := make(chan error, 1)
	select {
	case j.flushes <- ch:
		return <-ch
	case <-j.done:
		return ErrClosed
	}
}

func (j *Journal) run() {
	defer j.wg.Done()
	batch := make([]Entry, 0, maxBatch)

	for {
		select {
		case e := <-j.in:
			batch = append(batch[:0], e)
			batch = j.drain(batch)
			if err := j.commit(batch); err != nil {
				j.log.Error("journal commit failed", "records", len(batch), "err", err)
			}
		case ch := <-j.flushes:
			ch <- j.commit(j.drain(batch[:0]))
		case <-j.done:
			for {
				batch = j.drain(batch[:0])
				if len(batch) == 0 {
					return
				}
				if err := j.commit(batch); err != nil {
					j.log.Error("journal final commit failed", "records", len(batch), "err", err)
					return
				}
			}
		}
	}
}

// drain appends whatever is immediately available, up to maxBatch.
func (j *Journal) drain(batch []Entry) []Entry {
	for len(batch) < maxBatch {
		select {
		case e := <-j.in:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) commit(batch []Entry) error {
	if len(batch) == 0 {
		return nil
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFrames)
		for _, e := range batch {
			key, err := ident.At(e.Time)
			if err != nil {
				return err
			}
			if err := b.Put(key[:], marshalEntry(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── reading ──────────────────────────────────────────────────────────────────

// Get returns the entry stored under key.
func (j *Journal) Get(key string) (Entry, error) {
	id, err := ulid.ParseStrict(key)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: bad key %q: %w", key, err)
	}
	var e Entry
	err = j.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFrames).Get(id[:])
		if v == nil {
			return ErrNotFound
		}
		var err error
		e, err = decode(id[:], v)
		return err
	})
	return e, err
}

// ForEach calls fn for every entry, oldest first. Iteration stops at the
// first error fn returns.
func (j *Journal) ForEach(fn func(Entry) error) error {
	return j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFrames).ForEach(func(k, v []byte) error {
			e, err := decode(k, v)
			if err != nil {
				return err
			}
			return fn(e)
		})
	})
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]Entry, 0, min(n, 1024))
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFrames).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			e, err := decode(k, v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Dropped returns how many records were discarded because the buffer was
// full.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Len returns the number of stored entries.
func (j *Journal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketFrames).Stats().KeyN
		return nil
	})
	return n, err
}

// ─── retention ────────────────────────────────────────────────────────────────

// Prune deletes every entry recorded before cutoff and returns how many were
// removed.
func (j *Journal) Prune(cutoff time.Time) (int, error) {
	limit := ulid.Timestamp(cutoff)
	removed := 0
	err := j.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFrames).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.First() {
			var id ulid.ULID
			copy(id[:], k)
			if id.Time() >= limit {
				return nil
			}
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// RunPruner deletes entries older than retention every interval until ctx is
// done. It always returns nil so it can run under an errgroup.
func (j *Journal) RunPruner(ctx context.Context, retention, interval time.Duration) error {
	if retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = min(retention, time.Hour)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			n, err := j.Prune(now.Add(-retention))
			if err != nil {
				j.log.Error("journal prune failed", "err", err)
				continue
			}
			if n > 0 {
				j.log.Info("journal pruned", "removed", n)
			}
		}
	}
}

// ─── queue.Observer ───────────────────────────────────────────────────────────

var _ queue.Observer = (*Journal)(nil)

// FrameSent implements queue.Observer.
func (j *Journal) FrameSent(q queue.Info, h wire.Header) {
	j.Record(Entry{Direction: DirSent, Queue: queueLabel(q), Command: h.Command, ID: h.ID, Size: h.Size})
}

// FrameReceived implements queue.Observer.
func (j *Journal) FrameReceived(q queue.Info, h wire.Header) {
	j.Record(Entry{Direction: DirReceived, Queue: queueLabel(q), Command: h.Command, ID: h.ID, Size: h.Size})
}

// ReplyResolved implements queue.Observer.
func (j *Journal) ReplyResolved(q queue.Info, id int64, kind types.ErrorKind) {
	cmd := types.CmdReply
	if kind != types.KindNone {
		cmd = types.CmdErrorReply
	}
	j.Record(Entry{Direction: DirResolved, Queue: queueLabel(q), Command: cmd, ID: id, Kind: kind})
}

// QueueEvent implements queue.Observer.
func (j *Journal) QueueEvent(q queue.Info, cmd types.Command) {
	j.Record(Entry{Direction: DirEvent, Queue: queueLabel(q), Command: cmd})
}

func queueLabel(q queue.Info) string {
	if q.Path != "" {
		return q.Path
	}
	return q.ID
}
