package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/snehjoshi/osyncq/internal/broker"
	"github.com/snehjoshi/osyncq/internal/config"
	"github.com/snehjoshi/osyncq/internal/journal"
	"github.com/snehjoshi/osyncq/internal/metrics"
	"github.com/snehjoshi/osyncq/internal/queue"
	transphttp "github.com/snehjoshi/osyncq/internal/transport/http"
	transportws "github.com/snehjoshi/osyncq/internal/transport/websocket"
	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/pkg/client"
)

// ─── test server helpers ──────────────────────────────────────────────────────

type testEnv struct {
	client  *client.Client
	broker  *broker.Broker
	journal *journal.Journal
	hub     *transportws.Hub
}

// newTestEnv spins up a real admin stack (broker + journal + tap + HTTP)
// backed by httptest.Server. All resources are cleaned up in t.Cleanup.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), journal.WithNoSync())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	hub := transportws.NewHub()
	t.Cleanup(hub.Close)

	reg := &metrics.Registry{}
	b := broker.New(t.TempDir(), broker.WithObservers(reg, j, hub))
	t.Cleanup(func() { _ = b.Close() })

	srv := transphttp.New(b, j, hub, reg, config.AdminConfig{}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{client: client.New(ts.URL + "/"), broker: b, journal: j, hub: hub}
}

// ctx is a convenience context for tests.
func ctx() context.Context { return context.Background() }

// ─── Health / channels ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	h, err := env.client.Health(ctx())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" || h.Channels != 0 || h.FIFODir != env.broker.Dir() {
		t.Errorf("Health = %+v", h)
	}
}

func TestChannels(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.broker.OpenChannel("contacts", broker.SideEngine); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}

	chans, err := env.client.Channels(ctx())
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	if len(chans) != 1 {
		t.Fatalf("want 1 channel, got %d", len(chans))
	}
	c := chans[0]
	if c.Name != "contacts" || c.Side != "engine" || c.Request.State != "unconnected" || c.Reply.Path == "" {
		t.Errorf("channel = %+v", c)
	}

	one, err := env.client.Channel(ctx(), "contacts")
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if one.Request.Path != c.Request.Path {
		t.Errorf("Channel(contacts) = %+v", one)
	}
}

func TestChannel_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.client.Channel(ctx(), "missing")
	if !client.IsNotFound(err) {
		t.Fatalf("want 404, got %v", err)
	}
	var ae *client.APIError
	if !errors.As(err, &ae) || ae.Message == "" {
		t.Errorf("APIError = %+v", ae)
	}
}

// ─── Journal ──────────────────────────────────────────────────────────────────

func TestJournal(t *testing.T) {
	env := newTestEnv(t)
	info := queue.Info{ID: "01Q", Path: "/tmp/cal-req", Role: types.RoleSender}
	env.journal.QueueEvent(info, types.CmdConnect)
	env.journal.ReplyResolved(info, 9, types.KindTimeout)
	if err := env.journal.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries, dropped, err := env.client.Journal(ctx(), 10)
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if dropped != 0 || len(entries) != 2 {
		t.Fatalf("Journal = %d entries, %d dropped", len(entries), dropped)
	}
	newest := entries[0]
	if newest.Direction != "resolved" || newest.Command != "ERROR_REPLY" || newest.Kind != "timeout" || newest.ID != 9 {
		t.Errorf("newest entry = %+v", newest)
	}

	byKey, err := env.client.JournalEntry(ctx(), newest.Key)
	if err != nil {
		t.Fatalf("JournalEntry: %v", err)
	}
	if byKey.Key != newest.Key || byKey.Queue != "/tmp/cal-req" {
		t.Errorf("JournalEntry = %+v", byKey)
	}
}

// ─── Watch ────────────────────────────────────────────────────────────────────

func TestWatch(t *testing.T) {
	env := newTestEnv(t)

	wctx, cancel := context.WithTimeout(ctx(), 5*time.Second)
	defer cancel()

	got := make(chan client.Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- env.client.Watch(wctx, "/tmp/a-rep", func(e client.Event) error {
			got <- e
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.hub.QueueEvent(queue.Info{Path: "/tmp/other"}, types.CmdConnect)
	env.hub.QueueEvent(queue.Info{Path: "/tmp/a-rep"}, types.CmdQueueHup)

	select {
	case e := <-got:
		if e.Type != "event" || e.Command != "QUEUE_HUP" || e.Queue != "/tmp/a-rep" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_StopsOnCallbackError(t *testing.T) {
	env := newTestEnv(t)
	stop := errors.New("stop")
	done := make(chan error, 1)
	go func() {
		done <- env.client.Watch(ctx(), "", func(client.Event) error { return stop })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	env.hub.QueueEvent(queue.Info{ID: "q"}, types.CmdDisconnect)

	select {
	case err := <-done:
		if !errors.Is(err, stop) {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestWatch_NoTap(t *testing.T) {
	b := broker.New(t.TempDir())
	t.Cleanup(func() { _ = b.Close() })
	ts := httptest.NewServer(transphttp.New(b, nil, nil, nil, config.AdminConfig{}, nil).Handler())
	t.Cleanup(ts.Close)

	err := client.New(ts.URL).Watch(ctx(), "", func(client.Event) error { return nil })
	var ae *client.APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 APIError, got %v", err)
	}
}
