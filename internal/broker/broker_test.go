package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/snehjoshi/osyncq/internal/broker"
	"github.com/snehjoshi/osyncq/internal/message"
	"github.com/snehjoshi/osyncq/internal/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func newTestBroker(t *testing.T, dir string) *broker.Broker {
	t.Helper()
	b := broker.New(dir, broker.WithPollIntervals(5*time.Millisecond, 20*time.Millisecond))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// pair opens the same channel on an engine broker and a plugin broker
// sharing one directory and connects both ends.
func pair(t *testing.T, name string) (engine, plugin *broker.Channel, eb *broker.Broker) {
	t.Helper()
	dir := t.TempDir()
	eb = newTestBroker(t, dir)
	pb := newTestBroker(t, dir)

	var err error
	if engine, err = eb.OpenChannel(name, broker.SideEngine); err != nil {
		t.Fatalf("OpenChannel engine: %v", err)
	}
	if plugin, err = pb.OpenChannel(name, broker.SidePlugin); err != nil {
		t.Fatalf("OpenChannel plugin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, c := range []*broker.Channel{engine, plugin} {
		wg.Add(1)
		go func(c *broker.Channel) {
			defer wg.Done()
			errs <- c.Connect(ctx)
		}(c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	return engine, plugin, eb
}

// ─── names ───────────────────────────────────────────────────────────────────

func TestValidateName(t *testing.T) {
	cases := map[string]bool{
		"contacts":   true,
		"file-sync2": true,
		"0abc":       true,
		"":           false,
		"-leading":   false,
		"Upper":      false,
		"a/b":        false,
		"a.b":        false,
	}
	for name, want := range cases {
		if got := broker.ValidateName(name); got != want {
			t.Errorf("ValidateName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestOpenChannel_InvalidName(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	if _, err := b.OpenChannel("../etc", broker.SideEngine); !errors.Is(err, broker.ErrInvalidName) {
		t.Fatalf("want ErrInvalidName, got %v", err)
	}
}

func TestOpenChannel_Duplicate(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	if _, err := b.OpenChannel("cal", broker.SideEngine); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	if _, err := b.OpenChannel("cal", broker.SidePlugin); !errors.Is(err, broker.ErrExists) {
		t.Fatalf("want ErrExists, got %v", err)
	}
}

func TestOpenChannel_CreatesFIFOs(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	if _, err := b.OpenChannel("notes", broker.SideEngine); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	req, rep := b.Paths("notes")
	for _, p := range []string{req, rep} {
		fi, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if fi.Mode()&os.ModeNamedPipe == 0 {
			t.Errorf("%s is not a FIFO: %v", p, fi.Mode())
		}
	}
}

// ─── lookup / snapshot ───────────────────────────────────────────────────────

func TestChannel_LookupAndSnapshot(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	for _, name := range []string{"zeta", "alpha"} {
		if _, err := b.OpenChannel(name, broker.SideEngine); err != nil {
			t.Fatalf("OpenChannel %s: %v", name, err)
		}
	}
	if _, err := b.Channel("alpha"); err != nil {
		t.Errorf("Channel(alpha): %v", err)
	}
	if _, err := b.Channel("missing"); !errors.Is(err, broker.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}

	infos := b.Channels()
	if len(infos) != 2 || infos[0].Name != "alpha" || infos[1].Name != "zeta" {
		t.Fatalf("Channels() = %+v", infos)
	}
	if infos[0].Request.State != "unconnected" || infos[0].Request.Connected {
		t.Errorf("fresh channel request queue: %+v", infos[0].Request)
	}

	raw, err := json.Marshal(infos[0])
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	if m["side"] != "engine" {
		t.Errorf("side encoded as %v", m["side"])
	}
}

// ─── close ───────────────────────────────────────────────────────────────────

func TestCloseChannel_RemovesCreatedFIFOs(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	if _, err := b.OpenChannel("todo", broker.SideEngine); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	if err := b.CloseChannel("todo"); err != nil {
		t.Fatalf("CloseChannel: %v", err)
	}
	req, rep := b.Paths("todo")
	for _, p := range []string{req, rep} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists: %v", p, err)
		}
	}
	if err := b.CloseChannel("todo"); !errors.Is(err, broker.ErrNotFound) {
		t.Errorf("second CloseChannel: %v", err)
	}
}

func TestClose_RejectsOpen(t *testing.T) {
	b := broker.New(t.TempDir())
	if _, err := b.OpenChannel("a", broker.SideEngine); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := b.OpenChannel("b", broker.SideEngine); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if n := len(b.Channels()); n != 0 {
		t.Errorf("closed broker lists %d channels", n)
	}
}

func TestConnect_CancelledWithoutPeer(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	c, err := b.OpenChannel("lonely", broker.SideEngine)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
}

// ─── traffic ─────────────────────────────────────────────────────────────────

func TestRequest_RoundTrip(t *testing.T) {
	engine, plugin, _ := pair(t, "contacts")

	plugin.Handle(func(req *message.Message) *message.Message {
		name, err := req.ReadStringValue()
		if err != nil {
			return message.NewErrorReply(req, err)
		}
		reply := message.NewReply(req)
		reply.WriteStringValue("hello " + name)
		return reply
	})

	req := message.New(types.CmdInitialize, 0)
	req.WriteStringValue("engine")
	reply, err := engine.Request(context.Background(), req, time.Second)
	req.Unref()
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	defer reply.Unref()
	got, err := reply.ReadStringValue()
	if err != nil || got != "hello engine" {
		t.Fatalf("reply payload = %q, %v", got, err)
	}
}

func TestRequest_ErrorReply(t *testing.T) {
	engine, plugin, _ := pair(t, "calendar")

	plugin.Handle(func(req *message.Message) *message.Message {
		return message.NewErrorReply(req, types.NewError(types.KindNotSupported, "no %s here", req.Command()))
	})

	req := message.New(types.CmdDiscover, 0)
	reply, err := engine.Request(context.Background(), req, time.Second)
	req.Unref()
	if reply != nil {
		defer reply.Unref()
	}
	if types.KindOf(err) != types.KindNotSupported {
		t.Fatalf("want not_supported, got %v", err)
	}
}

func TestRequest_Timeout(t *testing.T) {
	engine, plugin, _ := pair(t, "slow")
	plugin.Handle(func(*message.Message) *message.Message { return nil })

	req := message.New(types.CmdSynchronize, 0)
	reply, err := engine.Request(context.Background(), req, 100*time.Millisecond)
	req.Unref()
	if reply != nil {
		reply.Unref()
	}
	if types.KindOf(err) != types.KindTimeout {
		t.Fatalf("want timeout, got %v", err)
	}
}

func TestRequest_CancelledThenLateReply(t *testing.T) {
	engine, plugin, _ := pair(t, "late")
	plugin.Handle(func(req *message.Message) *message.Message {
		seq, err := req.ReadLong()
		if err != nil {
			t.Errorf("ReadLong: %v", err)
			return nil
		}
		if seq == 1 {
			time.Sleep(150 * time.Millisecond)
		}
		r := message.NewReply(req)
		r.WriteLong(seq)
		return r
	})

	first := message.New(types.CmdCallPlugin, 0)
	first.WriteLong(1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	reply, err := engine.Request(ctx, first, 0)
	cancel()
	first.Unref()
	if reply != nil {
		reply.Unref()
		t.Fatal("got a reply for a cancelled request")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}

	// The late reply to the first request must not hold up the dispatcher
	// or be mistaken for the second reply.
	second := message.New(types.CmdCallPlugin, 0)
	second.WriteLong(2)
	defer second.Unref()
	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err = engine.Request(ctx, second, 0)
	if err != nil {
		t.Fatalf("second Request: %v", err)
	}
	defer reply.Unref()
	if reply.ID() != second.ID() {
		t.Errorf("reply id %d, want %d", reply.ID(), second.ID())
	}
	if seq, err := reply.ReadLong(); err != nil || seq != 2 {
		t.Errorf("reply seq = %d, %v; want 2", seq, err)
	}
}

func TestDone_ClosedOnPeerHangup(t *testing.T) {
	engine, plugin, eb := pair(t, "hup")

	_ = eb.CloseChannel("hup")
	select {
	case <-plugin.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("plugin did not notice engine hang-up")
	}
	select {
	case <-engine.Done():
	default:
		t.Error("closed channel's Done is still open")
	}
}
