package vm

import (
	"context"
	"io"
	"log/slog"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

// RingHandler is a bounded, in-memory slog.Handler that keeps the last N
// log records verbatim, so a host can attach a postmortem dump of recent
// VM activity to a Fault report without re-reading a log file.
type RingHandler struct {
	mu      sync.Mutex
	cap     int
	records []slog.Record
	attrs   []slog.Attr
	group   string
	root    *RingHandler // set on WithAttrs/WithGroup clones, which store into root's records
}

// store returns the handler whose records this handler appends to and reads.
func (h *RingHandler) store() *RingHandler {
	if h.root != nil {
		return h.root
	}
	return h
}

// NewRingHandler returns a RingHandler retaining at most capacity records.
func NewRingHandler(capacity int) *RingHandler {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingHandler{cap: capacity}
}

func (h *RingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *RingHandler) Handle(_ context.Context, r slog.Record) error {
	s := h.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(h.attrs) > 0 {
		r.AddAttrs(h.attrs...)
	}
	s.records = append(s.records, r)
	if len(s.records) > s.cap {
		s.records = s.records[len(s.records)-s.cap:]
	}
	return nil
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := &RingHandler{cap: h.cap, group: h.group, root: h.store()}
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return clone
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	clone := &RingHandler{cap: h.cap, attrs: h.attrs, group: name, root: h.store()}
	return clone
}

// Recent returns a snapshot of the retained records, oldest first,
// including records handled by loggers derived from this one.
func (h *RingHandler) Recent() []slog.Record {
	s := h.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]slog.Record, len(s.records))
	copy(out, s.records)
	return out
}

// NewLogger builds the standard mwrt logger: a human-readable text handler
// on textOut fanned out alongside a bounded ring buffer via slog-multi, so
// a host embedding the VM gets both a live tail and a queryable recent
// history without wiring its own multiplexing.
func NewLogger(textOut io.Writer, level slog.Level, ring *RingHandler) *slog.Logger {
	textHandler := slog.NewTextHandler(textOut, &slog.HandlerOptions{Level: level})
	handler := slogmulti.Fanout(textHandler, ring)
	return slog.New(handler)
}
