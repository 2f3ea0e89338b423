// Package websocket streams queue traffic to WebSocket clients.
//
// Clients open a WebSocket connection to:
//
//	GET /ws[?queue=<path-or-id>]
//
// The Hub is a queue.Observer. Every frame and lifecycle event seen by an
// observed queue is pushed to each connected client as one JSON text frame:
//
//	{"type":"sent","time":"...","queue":"/run/osyncq/contacts-req","command":"INITIALIZE","id":123,"size":29}
//	{"type":"resolved","time":"...","queue":"...","command":"ERROR_REPLY","id":123,"kind":"timeout"}
//	{"type":"event","time":"...","queue":"...","command":"QUEUE_HUP"}
//
// The tap is read-only; anything a client sends is discarded. A client whose
// buffer fills up is disconnected so a slow reader never stalls a queue.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/osyncq/internal/queue"
	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/internal/wire"
)

const (
	defaultBuffer = 256
	writeWait     = 5 * time.Second
	pingPeriod    = 30 * time.Second
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin upgrades. A request is same-origin
	// when its Origin host matches the Host header. Requests without an
	// Origin header (native clients, curl) are allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host, err := parseHost(origin)
		if err != nil {
			return false
		}
		return host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Event is the JSON frame pushed to clients.
type Event struct {
	Type    string          `json:"type"` // "sent" | "received" | "resolved" | "event"
	Time    time.Time       `json:"time"`
	Queue   string          `json:"queue"`
	Command types.Command   `json:"command"`
	ID      int64           `json:"id,omitempty"`
	Size    int32           `json:"size,omitempty"`
	Kind    types.ErrorKind `json:"kind,omitempty"`
}

type client struct {
	conn   *gorillaws.Conn
	filter string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) stop() { c.once.Do(func() { close(c.done) }) }

func (c *client) wants(q queue.Info) bool {
	return c.filter == "" || c.filter == q.Path || c.filter == q.ID
}

// Hub fans queue events out to WebSocket clients. It implements queue.Observer
// and http.Handler.
type Hub struct {
	log    *slog.Logger
	buffer int

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	dropped atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithBuffer sets how many frames may wait per client before it is dropped.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub returns an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		log:     slog.New(slog.DiscardHandler),
		buffer:  defaultBuffer,
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for falling behind.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.stop()
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		conn:   conn,
		filter: r.URL.Query().Get("queue"),
		send:   make(chan []byte, h.buffer),
		done:   make(chan struct{}),
	}
	if !h.add(c) {
		_ = conn.WriteControl(gorillaws.CloseMessage,
			gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.log.Debug("websocket client connected", "remote", r.RemoteAddr, "filter", c.filter)

	// The reader only notices the client leaving.
	go func() {
		defer c.stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.writePump(c)
	h.remove(c)
	conn.Close()
	h.log.Debug("websocket client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(gorillaws.CloseMessage,
				gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(gorillaws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	c.stop()
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// publish encodes e once and offers it to every interested client.
func (h *Hub) publish(q queue.Info, e Event) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	e.Time = time.Now()
	e.Queue = queueLabel(q)
	data, err := json.Marshal(e)
	if err != nil {
		h.mu.RUnlock()
		h.log.Error("websocket encode failed", "err", err)
		return
	}

	var slow []*client
	for c := range h.clients {
		if !c.wants(q) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.dropped.Add(1)
		h.log.Warn("websocket client too slow, dropping", "remote", c.conn.RemoteAddr().String())
		h.remove(c)
	}
}

// ─── queue.Observer ───────────────────────────────────────────────────────────

var _ queue.Observer = (*Hub)(nil)

// FrameSent implements queue.Observer.
func (h *Hub) FrameSent(q queue.Info, hd wire.Header) {
	h.publish(q, Event{Type: "sent", Command: hd.Command, ID: hd.ID, Size: hd.Size})
}

// FrameReceived implements queue.Observer.
func (h *Hub) FrameReceived(q queue.Info, hd wire.Header) {
	h.publish(q, Event{Type: "received", Command: hd.Command, ID: hd.ID, Size: hd.Size})
}

// ReplyResolved implements queue.Observer.
func (h *Hub) ReplyResolved(q queue.Info, id int64, kind types.ErrorKind) {
	cmd := types.CmdReply
	if kind != types.KindNone {
		cmd = types.CmdErrorReply
	}
	h.publish(q, Event{Type: "resolved", Command: cmd, ID: id, Kind: kind})
}

// QueueEvent implements queue.Observer.
func (h *Hub) QueueEvent(q queue.Info, cmd types.Command) {
	h.publish(q, Event{Type: "event", Command: cmd})
}

func queueLabel(q queue.Info) string {
	if q.Path != "" {
		return q.Path
	}
	return q.ID
}
