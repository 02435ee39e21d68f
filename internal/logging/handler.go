// Package logging provides the bridge's slog plumbing: a handler that keeps
// the most recent records in memory, optionally teeing them as JSON to a
// writer such as a RotatingFileWriter.
package logging

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Entry is one record kept by a Handler.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs"`
}

// ring is the entry store shared by a handler and its derivatives.
type ring struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

// HandlerOptions configure NewHandler.
type HandlerOptions struct {
	// Level is the minimum level recorded. Defaults to info.
	Level slog.Leveler
	// MaxEntries bounds the in-memory ring. Defaults to 1000.
	MaxEntries int
	// Output, when set, also receives every record as a JSON line.
	Output io.Writer
}

// Handler implements slog.Handler over a bounded in-memory ring of entries.
type Handler struct {
	ring   *ring
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
	tee    slog.Handler
}

// NewHandler creates a Handler.
func NewHandler(opts HandlerOptions) *Handler {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	h := &Handler{
		ring:  &ring{entries: make([]Entry, 0, opts.MaxEntries), max: opts.MaxEntries},
		level: opts.Level,
	}
	if opts.Output != nil {
		h.tee = slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{Level: opts.Level})
	}
	return h
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		flatten(attrs, "", a)
	}
	record.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})

	r := h.ring
	r.mu.Lock()
	r.entries = append(r.entries, Entry{
		Time:    record.Time,
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	})
	if len(r.entries) > r.max {
		r.entries = r.entries[1:]
	}
	r.mu.Unlock()

	if h.tee != nil {
		return h.tee.Handle(ctx, record)
	}
	return nil
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			flatten(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = a.Value.String()
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := h.clone()
	for _, a := range attrs {
		if h.prefix != "" {
			a = slog.Attr{Key: h.prefix + a.Key, Value: a.Value}
		}
		c.attrs = append(c.attrs, a)
	}
	if c.tee != nil {
		c.tee = c.tee.WithAttrs(attrs)
	}
	return c
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix += name + "."
	if c.tee != nil {
		c.tee = c.tee.WithGroup(name)
	}
	return c
}

func (h *Handler) clone() *Handler {
	return &Handler{
		ring:   h.ring,
		level:  h.level,
		attrs:  slices.Clip(h.attrs),
		prefix: h.prefix,
		tee:    h.tee,
	}
}

// Entries returns a copy of every kept entry, oldest first.
func (h *Handler) Entries() []Entry {
	return h.Recent(0)
}

// Recent returns the most recent count entries; count <= 0 means all.
func (h *Handler) Recent(count int) []Entry {
	h.ring.mu.RLock()
	defer h.ring.mu.RUnlock()
	n := len(h.ring.entries)
	if count <= 0 || count > n {
		count = n
	}
	return slices.Clone(h.ring.entries[n-count:])
}

// Search returns the entries whose message, attribute key or attribute value
// contains query, case-insensitively.
func (h *Handler) Search(query string) []Entry {
	h.ring.mu.RLock()
	defer h.ring.mu.RUnlock()
	query = strings.ToLower(query)
	var matches []Entry
	for _, e := range h.ring.entries {
		if matchEntry(e, query) {
			matches = append(matches, e)
		}
	}
	return matches
}

func matchEntry(e Entry, query string) bool {
	if strings.Contains(strings.ToLower(e.Message), query) {
		return true
	}
	for k, v := range e.Attrs {
		if strings.Contains(strings.ToLower(k), query) || strings.Contains(strings.ToLower(v), query) {
			return true
		}
	}
	return false
}

// Clear drops every kept entry.
func (h *Handler) Clear() {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	h.ring.entries = h.ring.entries[:0]
}

// Len returns the number of kept entries.
func (h *Handler) Len() int {
	h.ring.mu.RLock()
	defer h.ring.mu.RUnlock()
	return len(h.ring.entries)
}
