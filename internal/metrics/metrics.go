// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for osyncq queues and the admin server.
//
// # Counter naming convention
//
// Every counter uses a tab-separated string as its label key so that a single
// sync.Map can hold all label combinations without additional map nesting.
//
//	FramesSent / FramesReceived      →  key = "queue\tcommand"
//	BytesSent / BytesReceived        →  key = "queue"
//	Replies                          →  key = "queue\tresult"
//	QueueEvents                      →  key = "queue\tevent"
//	HTTPReqs                         →  key = "method\tpath\tstatus"
//	HTTPDurMs / HTTPDurCnt           →  key = "method\tpath"
//
// The queue label is the queue's path when it has one, its id otherwise.
//
// # Prometheus text output
//
// Calling Registry.Handler() returns an http.Handler that renders all counters
// in the Prometheus exposition format (text/plain; version=0.0.4).
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/snehjoshi/osyncq/internal/queue"
	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/internal/wire"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	if v, ok := lc.vals.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Get returns the current value for key.
func (lc *labelCounter) Get(key string) int64 {
	v, ok := lc.vals.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Each calls fn for every key/value pair. The order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all osyncq metrics. The zero value is ready to use.
type Registry struct {
	// Frame-level counters.  key = "queue\tcommand"
	FramesSent     labelCounter
	FramesReceived labelCounter

	// Payload bytes.  key = "queue"
	BytesSent     labelCounter
	BytesReceived labelCounter

	// Resolved replies by result ("ok", "timeout", "io_error", ...).
	// key = "queue\tresult"
	Replies labelCounter

	// Lifecycle and failure events.  key = "queue\tevent"
	QueueEvents labelCounter

	// HTTP-level counters.  key = "method\tpath\tstatus" (Reqs) or "method\tpath" (Dur*)
	HTTPReqs   labelCounter
	HTTPDurMs  labelCounter // sum of request durations in milliseconds
	HTTPDurCnt labelCounter // number of requests (same key as HTTPDurMs, for avg)
}

var _ queue.Observer = (*Registry)(nil)

// FrameSent implements queue.Observer.
func (r *Registry) FrameSent(q queue.Info, h wire.Header) {
	name := queueLabel(q)
	r.FramesSent.Inc(FrameKey(name, h.Command))
	r.BytesSent.Add(name, int64(wire.HeaderSize)+int64(h.Size))
}

// FrameReceived implements queue.Observer.
func (r *Registry) FrameReceived(q queue.Info, h wire.Header) {
	name := queueLabel(q)
	r.FramesReceived.Inc(FrameKey(name, h.Command))
	r.BytesReceived.Add(name, int64(wire.HeaderSize)+int64(h.Size))
}

// ReplyResolved implements queue.Observer.
func (r *Registry) ReplyResolved(q queue.Info, _ int64, kind types.ErrorKind) {
	r.Replies.Inc(ReplyKey(queueLabel(q), kind))
}

// QueueEvent implements queue.Observer.
func (r *Registry) QueueEvent(q queue.Info, cmd types.Command) {
	r.QueueEvents.Inc(EventKey(queueLabel(q), cmd))
}

func queueLabel(q queue.Info) string {
	if q.Path != "" {
		return q.Path
	}
	return q.ID
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var b strings.Builder

		// ── frame counters ────────────────────────────────────────────────────
		writeFamily(&b, "osyncq_frames_sent_total",
			"Total frames written to a queue", "counter",
			func(fn func(labels, val string)) {
				r.FramesSent.Each(func(key string, val int64) {
					q, cmd := splitTwo(key)
					fn(fmt.Sprintf(`queue=%q,command=%q`, q, cmd), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "osyncq_frames_received_total",
			"Total frames read from a queue", "counter",
			func(fn func(labels, val string)) {
				r.FramesReceived.Each(func(key string, val int64) {
					q, cmd := splitTwo(key)
					fn(fmt.Sprintf(`queue=%q,command=%q`, q, cmd), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "osyncq_bytes_sent_total",
			"Total bytes written to a queue, headers included", "counter",
			func(fn func(labels, val string)) {
				r.BytesSent.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`queue=%q`, key), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "osyncq_bytes_received_total",
			"Total bytes read from a queue, headers included", "counter",
			func(fn func(labels, val string)) {
				r.BytesReceived.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`queue=%q`, key), fmt.Sprintf("%d", val))
				})
			})

		// ── reply and lifecycle counters ──────────────────────────────────────
		writeFamily(&b, "osyncq_replies_total",
			"Pending replies resolved, by result", "counter",
			func(fn func(labels, val string)) {
				r.Replies.Each(func(key string, val int64) {
					q, result := splitTwo(key)
					fn(fmt.Sprintf(`queue=%q,result=%q`, q, result), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "osyncq_queue_events_total",
			"Queue lifecycle events: connect, disconnect, hangup, error", "counter",
			func(fn func(labels, val string)) {
				r.QueueEvents.Each(func(key string, val int64) {
					q, ev := splitTwo(key)
					fn(fmt.Sprintf(`queue=%q,event=%q`, q, ev), fmt.Sprintf("%d", val))
				})
			})

		// ── HTTP counters ─────────────────────────────────────────────────────
		writeFamily(&b, "osyncq_http_requests_total",
			"Total HTTP requests by method, path, and status code", "counter",
			func(fn func(labels, val string)) {
				r.HTTPReqs.Each(func(key string, val int64) {
					method, path, status := splitThree(key)
					fn(fmt.Sprintf(`method=%q,path=%q,status=%q`, method, path, status),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "osyncq_http_request_duration_milliseconds_sum",
			"Sum of HTTP request durations in milliseconds", "counter",
			func(fn func(labels, val string)) {
				r.HTTPDurMs.Each(func(key string, val int64) {
					method, path := splitTwo(key)
					fn(fmt.Sprintf(`method=%q,path=%q`, method, path), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "osyncq_http_request_duration_milliseconds_count",
			"Count of observed HTTP request durations", "counter",
			func(fn func(labels, val string)) {
				r.HTTPDurCnt.Each(func(key string, val int64) {
					method, path := splitTwo(key)
					fn(fmt.Sprintf(`method=%q,path=%q`, method, path), fmt.Sprintf("%d", val))
				})
			})

		fmt.Fprint(w, b.String())
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeFamily writes a single Prometheus metric family to b.
// fill is called with a writer function that appends individual label+value lines.
func writeFamily(
	b *strings.Builder,
	name, help, typ string,
	fill func(fn func(labels, val string)),
) {
	// Buffer lines so the header is skipped when the family is empty.
	var lines []string
	fill(func(labels, val string) {
		lines = append(lines, fmt.Sprintf("%s{%s} %s\n", name, labels, val))
	})
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	for _, l := range lines {
		b.WriteString(l)
	}
}

// splitTwo splits a tab-delimited key of the form "a\tb" into (a, b).
// If there is no tab, the whole string is returned as the first component.
func splitTwo(key string) (string, string) {
	i := strings.IndexByte(key, '\t')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// splitThree splits a tab-delimited key "a\tb\tc" into (a, b, c).
func splitThree(key string) (string, string, string) {
	a, rest := splitTwo(key)
	b, c := splitTwo(rest)
	return a, b, c
}

// ─── Convenience key builders ─────────────────────────────────────────────────

// FrameKey builds the label key used by FramesSent/FramesReceived.
func FrameKey(queue string, cmd types.Command) string {
	return queue + "\t" + cmd.String()
}

// ReplyKey builds the label key used by Replies. A successful reply is "ok".
func ReplyKey(queue string, kind types.ErrorKind) string {
	result := "ok"
	if kind != types.KindNone {
		result = kind.String()
	}
	return queue + "\t" + result
}

// EventKey builds the label key used by QueueEvents.
func EventKey(queue string, cmd types.Command) string {
	var ev string
	switch cmd {
	case types.CmdConnect:
		ev = "connect"
	case types.CmdDisconnect:
		ev = "disconnect"
	case types.CmdQueueHup:
		ev = "hangup"
	case types.CmdQueueError:
		ev = "error"
	default:
		ev = strings.ToLower(cmd.String())
	}
	return queue + "\t" + ev
}

// HTTPKey builds the label key used by HTTPReqs.
func HTTPKey(method, path, status string) string {
	return method + "\t" + path + "\t" + status
}

// HTTPDurKey builds the label key used by HTTPDurMs / HTTPDurCnt.
func HTTPDurKey(method, path string) string {
	return method + "\t" + path
}
