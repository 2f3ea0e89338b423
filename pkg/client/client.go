// Package client is the Go SDK for the osyncq admin endpoint.
//
// # Quick start
//
//	c := client.New("http://127.0.0.1:8642")
//
//	h, err := c.Health(ctx)
//	chans, err := c.Channels(ctx)
//	entries, err := c.Journal(ctx, 50)
//
//	// Stream live frames until ctx is cancelled.
//	err = c.Watch(ctx, "", func(e client.Event) error {
//	    fmt.Println(e.Type, e.Command, e.ID)
//	    return nil
//	})
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Check errors.As(err, &client.APIError{}) to inspect the HTTP
// status and server message.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the osyncq admin server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("osyncq: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether the error is a 429 from the server.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusTooManyRequests
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 10 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the osyncq admin API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the admin server at baseURL.
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Public types ─────────────────────────────────────────────────────────────

// HealthInfo is returned by Health.
type HealthInfo struct {
	Status   string
	Channels int
	Uptime   time.Duration
	Version  string
	FIFODir  string
}

// QueueInfo describes one side of a channel.
type QueueInfo struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Role      string `json:"role"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Pending   int    `json:"pending"`
	Incoming  int    `json:"incoming"`
	Outgoing  int    `json:"outgoing"`
}

// ChannelInfo describes an open channel.
type ChannelInfo struct {
	Name     string    `json:"name"`
	Side     string    `json:"side"`
	Request  QueueInfo `json:"request"`
	Reply    QueueInfo `json:"reply"`
	OpenedAt time.Time `json:"opened_at"`
}

// JournalEntry is one recorded frame or queue event.
type JournalEntry struct {
	Key       string    `json:"key"`
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Queue     string    `json:"queue"`
	Command   string    `json:"command"`
	ID        int64     `json:"id"`
	Size      int32     `json:"size"`
	Kind      string    `json:"kind"`
}

// Event is one frame pushed by the live tap.
type Event struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Queue   string    `json:"queue"`
	Command string    `json:"command"`
	ID      int64     `json:"id"`
	Size    int32     `json:"size"`
	Kind    string    `json:"kind"`
}

// ─── Observability ────────────────────────────────────────────────────────────

// Health checks the server's /health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp struct {
		Status   string `json:"status"`
		Channels int    `json:"channels"`
		UptimeMs int64  `json:"uptime_ms"`
		Version  string `json:"version"`
		FIFODir  string `json:"fifo_dir"`
	}
	if err := c.do(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &HealthInfo{
		Status:   resp.Status,
		Channels: resp.Channels,
		Uptime:   time.Duration(resp.UptimeMs) * time.Millisecond,
		Version:  resp.Version,
		FIFODir:  resp.FIFODir,
	}, nil
}

// Channels lists every open channel sorted by name.
func (c *Client) Channels(ctx context.Context) ([]*ChannelInfo, error) {
	var resp struct {
		Channels []*ChannelInfo `json:"channels"`
	}
	if err := c.do(ctx, "/api/channels", &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// Channel returns one channel by name.
func (c *Client) Channel(ctx context.Context, name string) (*ChannelInfo, error) {
	var info ChannelInfo
	if err := c.do(ctx, "/api/channels/"+url.PathEscape(name), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Journal returns up to limit journal entries, newest first. limit <= 0 uses
// the server default. The second result is how many records the server
// dropped because its journal buffer was full.
func (c *Client) Journal(ctx context.Context, limit int) ([]*JournalEntry, int64, error) {
	path := "/api/journal"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Entries []*JournalEntry `json:"entries"`
		Dropped int64           `json:"dropped"`
	}
	if err := c.do(ctx, path, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Entries, resp.Dropped, nil
}

// JournalEntry returns one journal entry by key.
func (c *Client) JournalEntry(ctx context.Context, key string) (*JournalEntry, error) {
	var e JournalEntry
	if err := c.do(ctx, "/api/journal/"+url.PathEscape(key), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Watch streams live tap events to fn until ctx is done, fn returns an
// error, or the server closes the stream. queue, when non-empty, limits the
// stream to one queue path or id. A cancelled ctx returns ctx.Err().
func (c *Client) Watch(ctx context.Context, queue string, fn func(Event) error) error {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return fmt.Errorf("osyncq: bad base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if queue != "" {
		u.RawQuery = url.Values{"queue": {queue}}.Encode()
	}

	conn, resp, err := gorillaws.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("osyncq: dial %s: %w", u, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("osyncq: read tap: %w", err)
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("osyncq: decode tap event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a GET and decodes the JSON response into resp.
func (c *Client) do(ctx context.Context, path string, resp any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("osyncq: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("osyncq: request GET %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("osyncq: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("osyncq: decode response: %w", err)
		}
	}
	return nil
}
