package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snehjoshi/osyncq/internal/broker"
	"github.com/snehjoshi/osyncq/internal/config"
	"github.com/snehjoshi/osyncq/internal/journal"
	"github.com/snehjoshi/osyncq/internal/metrics"
	transphttp "github.com/snehjoshi/osyncq/internal/transport/http"
	"github.com/snehjoshi/osyncq/internal/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type fixture struct {
	broker  *broker.Broker
	journal *journal.Journal
	reg     *metrics.Registry
	handler http.Handler
}

func newFixture(t *testing.T, admin config.AdminConfig, withJournal bool) *fixture {
	t.Helper()
	f := &fixture{
		broker: broker.New(t.TempDir()),
		reg:    &metrics.Registry{},
	}
	t.Cleanup(func() { _ = f.broker.Close() })

	if withJournal {
		j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), journal.WithNoSync())
		if err != nil {
			t.Fatalf("journal.Open: %v", err)
		}
		t.Cleanup(func() { _ = j.Close() })
		f.journal = j
	}

	f.handler = transphttp.New(f.broker, f.journal, nil, f.reg, admin, nil).Handler()
	return f
}

func newTestServer(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t, config.AdminConfig{}, true)
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v, body: %s", err, rr.Body.String())
	}
}

// ─── Health ───────────────────────────────────────────────────────────────────

func TestHTTP_Health(t *testing.T) {
	f := newTestServer(t)
	if _, err := f.broker.OpenChannel("contacts", broker.SideEngine); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}

	rr := doRequest(t, f.handler, "GET", "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("health: want 200, got %d, body: %s", rr.Code, rr.Body)
	}
	var resp map[string]any
	decodeResp(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("health status: want ok, got %v", resp["status"])
	}
	if resp["channels"] != float64(1) {
		t.Errorf("health channels: want 1, got %v", resp["channels"])
	}
	if resp["fifo_dir"] != f.broker.Dir() {
		t.Errorf("health fifo_dir: %v", resp["fifo_dir"])
	}
}

// ─── Channels ─────────────────────────────────────────────────────────────────

func TestHTTP_ListChannels(t *testing.T) {
	f := newTestServer(t)
	for _, name := range []string{"notes", "calendar"} {
		if _, err := f.broker.OpenChannel(name, broker.SidePlugin); err != nil {
			t.Fatalf("OpenChannel: %v", err)
		}
	}

	rr := doRequest(t, f.handler, "GET", "/api/channels")
	if rr.Code != http.StatusOK {
		t.Fatalf("listChannels: want 200, got %d", rr.Code)
	}
	var resp struct {
		Channels []struct {
			Name    string `json:"name"`
			Side    string `json:"side"`
			Request struct {
				Path  string `json:"path"`
				State string `json:"state"`
			} `json:"request"`
		} `json:"channels"`
	}
	decodeResp(t, rr, &resp)
	if len(resp.Channels) != 2 || resp.Channels[0].Name != "calendar" || resp.Channels[1].Name != "notes" {
		t.Fatalf("channels: %+v", resp.Channels)
	}
	c := resp.Channels[0]
	if c.Side != "plugin" || c.Request.State != "unconnected" || !strings.HasSuffix(c.Request.Path, "calendar-req") {
		t.Errorf("calendar channel: %+v", c)
	}
}

func TestHTTP_GetChannel(t *testing.T) {
	f := newTestServer(t)
	if _, err := f.broker.OpenChannel("todo", broker.SideEngine); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}

	cases := []struct {
		path string
		want int
	}{
		{"/api/channels/todo", http.StatusOK},
		{"/api/channels/missing", http.StatusNotFound},
		{"/api/channels/Bad_Name", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rr := doRequest(t, f.handler, "GET", tc.path)
			if rr.Code != tc.want {
				t.Errorf("want %d, got %d, body: %s", tc.want, rr.Code, rr.Body)
			}
		})
	}
}

// ─── Journal ──────────────────────────────────────────────────────────────────

func TestHTTP_Journal(t *testing.T) {
	f := newTestServer(t)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		f.journal.Record(journal.Entry{
			Time:      base.Add(time.Duration(i) * time.Second),
			Direction: journal.DirSent,
			Queue:     "/tmp/contacts-req",
			Command:   types.CmdCommitChange,
			ID:        int64(i),
		})
	}
	if err := f.journal.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rr := doRequest(t, f.handler, "GET", "/api/journal?limit=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("journal: want 200, got %d", rr.Code)
	}
	var resp struct {
		Entries []journal.Entry `json:"entries"`
		Dropped int64           `json:"dropped"`
	}
	decodeResp(t, rr, &resp)
	if len(resp.Entries) != 2 || resp.Entries[0].ID != 4 || resp.Entries[1].ID != 3 {
		t.Fatalf("journal entries: %+v", resp.Entries)
	}
	if resp.Entries[0].Command != types.CmdCommitChange {
		t.Errorf("entry command: %v", resp.Entries[0].Command)
	}

	rr = doRequest(t, f.handler, "GET", "/api/journal/"+resp.Entries[0].Key)
	if rr.Code != http.StatusOK {
		t.Fatalf("journal entry: want 200, got %d", rr.Code)
	}
	var one journal.Entry
	decodeResp(t, rr, &one)
	if one.ID != 4 {
		t.Errorf("journal entry by key: %+v", one)
	}

	if rr := doRequest(t, f.handler, "GET", "/api/journal/01ARZ3NDEKTSV4RRFFQ69G5FAV"); rr.Code != http.StatusNotFound {
		t.Errorf("missing key: want 404, got %d", rr.Code)
	}
	if rr := doRequest(t, f.handler, "GET", "/api/journal/nope"); rr.Code != http.StatusBadRequest {
		t.Errorf("malformed key: want 400, got %d", rr.Code)
	}
}

func TestHTTP_JournalEmpty(t *testing.T) {
	f := newTestServer(t)
	rr := doRequest(t, f.handler, "GET", "/api/journal")
	if rr.Code != http.StatusOK {
		t.Fatalf("journal: want 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"entries":[]`) {
		t.Errorf("empty journal should encode an empty list: %s", rr.Body)
	}
}

func TestHTTP_JournalDisabled(t *testing.T) {
	f := newFixture(t, config.AdminConfig{}, false)
	if rr := doRequest(t, f.handler, "GET", "/api/journal"); rr.Code != http.StatusNotFound {
		t.Errorf("disabled journal: want 404, got %d", rr.Code)
	}
	if rr := doRequest(t, f.handler, "GET", "/ws"); rr.Code != http.StatusNotFound {
		t.Errorf("no hub: want 404, got %d", rr.Code)
	}
}

// ─── Metrics / middleware ─────────────────────────────────────────────────────

func TestHTTP_MetricsCountsRequests(t *testing.T) {
	f := newTestServer(t)
	doRequest(t, f.handler, "GET", "/api/channels/missing")
	doRequest(t, f.handler, "GET", "/api/channels/other")

	key := metrics.HTTPKey("GET", "/api/channels/{name}", "404")
	if got := f.reg.HTTPReqs.Get(key); got != 2 {
		t.Errorf("HTTPReqs[%q] = %d, want 2", key, got)
	}

	rr := doRequest(t, f.handler, "GET", "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: want 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "osyncq_http_requests_total") {
		t.Errorf("metrics output missing HTTP family:\n%s", rr.Body)
	}
}

func TestHTTP_RateLimit(t *testing.T) {
	f := newFixture(t, config.AdminConfig{RateLimitRPS: 1, RateLimitBurst: 2}, false)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, doRequest(t, f.handler, "GET", "/health").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("rate limit codes: %v", codes)
	}

	// Another client has its own bucket.
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("forwarded client: want 200, got %d", rr.Code)
	}
}
