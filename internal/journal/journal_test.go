package journal_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/snehjoshi/osyncq/internal/journal"
	"github.com/snehjoshi/osyncq/internal/queue"
	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/internal/wire"
)

// ---- helpers ----------------------------------------------------------------

func openJournal(t *testing.T, opts ...journal.Option) *journal.Journal {
	t.Helper()
	opts = append([]journal.Option{journal.WithNoSync()}, opts...)
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), opts...)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func flush(t *testing.T, j *journal.Journal) {
	t.Helper()
	if err := j.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

// ---- tests ------------------------------------------------------------------

func TestRecord_RoundTrip(t *testing.T) {
	j := openJournal(t)
	at := time.UnixMilli(1_700_000_000_123)

	if !j.Record(journal.Entry{
		Time:      at,
		Direction: journal.DirSent,
		Queue:     "/run/osyncq/contacts-req",
		Command:   types.CmdCommitChange,
		ID:        42,
		Size:      29,
	}) {
		t.Fatal("Record rejected entry")
	}
	flush(t, j)

	got, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.Key == "" {
		t.Error("stored entry has no key")
	}
	if !e.Time.Equal(at) || e.Direction != journal.DirSent || e.Queue != "/run/osyncq/contacts-req" ||
		e.Command != types.CmdCommitChange || e.ID != 42 || e.Size != 29 {
		t.Errorf("round trip mismatch: %+v", e)
	}

	byKey, err := j.Get(e.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if byKey.ID != 42 {
		t.Errorf("Get returned %+v", byKey)
	}
}

func TestGet_Missing(t *testing.T) {
	j := openJournal(t)
	if _, err := j.Get("01ARZ3NDEKTSV4RRFFQ69G5FAV"); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := j.Get("not-a-ulid"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestRecent_NewestFirstAndLimit(t *testing.T) {
	j := openJournal(t)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 10; i++ {
		j.Record(journal.Entry{Time: base.Add(time.Duration(i) * time.Second), Direction: journal.DirReceived, ID: int64(i)})
	}
	flush(t, j)

	got, err := j.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3, got %d", len(got))
	}
	for i, want := range []int64{9, 8, 7} {
		if got[i].ID != want {
			t.Errorf("Recent[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}

	if got, _ := j.Recent(0); len(got) != 0 {
		t.Errorf("Recent(0) returned %d entries", len(got))
	}
}

func TestForEach_OldestFirst(t *testing.T) {
	j := openJournal(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		j.Record(journal.Entry{Time: base.Add(time.Duration(i) * time.Minute), ID: int64(i)})
	}
	flush(t, j)

	var ids []int64
	if err := j.ForEach(func(e journal.Entry) error {
		ids = append(ids, e.ID)
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	for i, id := range ids {
		if id != int64(i) {
			t.Fatalf("ForEach order: %v", ids)
		}
	}

	stop := errors.New("stop")
	n := 0
	err := j.ForEach(func(journal.Entry) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Errorf("ForEach did not stop early: n=%d err=%v", n, err)
	}
}

func TestPrune_RemovesOlderEntries(t *testing.T) {
	j := openJournal(t)
	now := time.Now()
	j.Record(journal.Entry{Time: now.Add(-48 * time.Hour), ID: 1})
	j.Record(journal.Entry{Time: now.Add(-25 * time.Hour), ID: 2})
	j.Record(journal.Entry{Time: now.Add(-time.Hour), ID: 3})
	flush(t, j)

	removed, err := j.Prune(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d, want 2", removed)
	}
	n, _ := j.Len()
	if n != 1 {
		t.Errorf("Len after prune = %d, want 1", n)
	}

	if removed, _ := j.Prune(now.Add(-24 * time.Hour)); removed != 0 {
		t.Errorf("second prune removed %d", removed)
	}
}

func TestRunPruner_StopsOnCancel(t *testing.T) {
	j := openJournal(t)
	j.Record(journal.Entry{Time: time.Now().Add(-time.Hour), ID: 1})
	flush(t, j)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.RunPruner(ctx, time.Minute, 10*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, _ := j.Len()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pruner never removed the old entry")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunPruner returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunPruner did not stop")
	}
}

func TestClose_CommitsPendingAndRejectsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path, journal.WithNoSync())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 100; i++ {
		j.Record(journal.Entry{ID: int64(i)})
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if j.Record(journal.Entry{}) {
		t.Error("Record succeeded after Close")
	}
	if err := j.Flush(); !errors.Is(err, journal.ErrClosed) {
		t.Errorf("Flush after Close: %v", err)
	}

	reopened, err := journal.Open(path, journal.WithNoSync())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.Len(); n != 100 {
		t.Errorf("reopened journal has %d entries, want 100", n)
	}
}

func TestRecord_DropsWhenFull(t *testing.T) {
	j := openJournal(t, journal.WithBuffer(1))
	accepted := 0
	for i := 0; i < 10_000; i++ {
		if j.Record(journal.Entry{ID: int64(i)}) {
			accepted++
		}
	}
	flush(t, j)
	if int64(accepted)+j.Dropped() != 10_000 {
		t.Errorf("accepted %d + dropped %d != 10000", accepted, j.Dropped())
	}
	if n, _ := j.Len(); n != accepted {
		t.Errorf("stored %d, accepted %d", n, accepted)
	}
}

func TestObserver_RecordsQueueTraffic(t *testing.T) {
	j := openJournal(t)
	info := queue.Info{ID: "01Q", Path: "/run/osyncq/cal-rep", Role: types.RoleReceiver}

	j.QueueEvent(info, types.CmdConnect)
	j.FrameReceived(info, wire.Header{Size: 8, Command: types.CmdReply, ID: 5})
	j.ReplyResolved(info, 6, types.KindTimeout)
	j.FrameSent(queue.Info{ID: "pipe"}, wire.Header{Command: types.CmdNoop})
	flush(t, j)

	got, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("want 4 entries, got %d", len(got))
	}
	byDir := map[journal.Direction]journal.Entry{}
	for _, e := range got {
		byDir[e.Direction] = e
	}
	if e := byDir[journal.DirEvent]; e.Command != types.CmdConnect || e.Queue != info.Path {
		t.Errorf("event entry: %+v", e)
	}
	if e := byDir[journal.DirReceived]; e.ID != 5 || e.Size != 8 {
		t.Errorf("received entry: %+v", e)
	}
	if e := byDir[journal.DirResolved]; e.Command != types.CmdErrorReply || e.Kind != types.KindTimeout {
		t.Errorf("resolved entry: %+v", e)
	}
	if e := byDir[journal.DirSent]; e.Queue != "pipe" {
		t.Errorf("sent entry should fall back to queue id: %+v", e)
	}
}

func TestEntry_JSON(t *testing.T) {
	in := journal.Entry{
		Key:       "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Time:      time.UnixMilli(1_700_000_000_000).UTC(),
		Direction: journal.DirResolved,
		Queue:     "q",
		Command:   types.CmdErrorReply,
		ID:        7,
		Kind:      types.KindIO,
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)
	if m["command"] != "ERROR_REPLY" || m["direction"] != "resolved" || m["kind"] != "io_error" {
		t.Errorf("unexpected JSON: %s", b)
	}

	var out journal.Entry
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Time.Equal(in.Time) {
		t.Errorf("JSON time: got %v, want %v", out.Time, in.Time)
	}
	out.Time = in.Time
	if out != in {
		t.Errorf("JSON round trip: got %+v, want %+v", out, in)
	}
}
