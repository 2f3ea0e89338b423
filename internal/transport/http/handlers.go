package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/snehjoshi/osyncq/internal/broker"
	"github.com/snehjoshi/osyncq/internal/journal"
)

// Version is reported by /health. It is set at build time with -ldflags.
var Version = "dev"

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

// Handler groups all HTTP request handlers around a Broker.
type Handler struct {
	broker  *broker.Broker
	journal *journal.Journal // nil when the journal is disabled
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type healthResp struct {
	Status   string `json:"status"`
	Channels int    `json:"channels"`
	Uptime   string `json:"uptime"`
	UptimeMs int64  `json:"uptime_ms"`
	Version  string `json:"version"`
	FIFODir  string `json:"fifo_dir"`
}

type channelsResp struct {
	Channels []broker.ChannelInfo `json:"channels"`
}

type journalResp struct {
	Entries []journal.Entry `json:"entries"`
	Dropped int64           `json:"dropped"`
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:   "ok",
		Channels: len(h.broker.Channels()),
		Uptime:   elapsed.Round(time.Second).String(),
		UptimeMs: elapsed.Milliseconds(),
		Version:  Version,
		FIFODir:  h.broker.Dir(),
	})
}

// ─── Channels ─────────────────────────────────────────────────────────────────

func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, channelsResp{Channels: h.broker.Channels()})
}

func (h *Handler) getChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !broker.ValidateName(name) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel name"})
		return
	}
	c, err := h.broker.Channel(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c.Info())
}

// ─── Journal ──────────────────────────────────────────────────────────────────

// recentJournal returns the newest entries first.
// Query params: limit (default 100, max 1000).
func (h *Handler) recentJournal(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r, "limit", defaultJournalLimit), maxJournalLimit)
	entries, err := h.journal.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, journalResp{Entries: entries, Dropped: h.journal.Dropped()})
}

func (h *Handler) getJournalEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.journal.Get(r.PathValue("key"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func parseIntParam(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// statusFor maps lookup errors to 404 and anything else (a malformed key)
// to 400.
func statusFor(err error) int {
	if errors.Is(err, broker.ErrNotFound) || errors.Is(err, journal.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
