package http

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry is one captured log record.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// LogBuffer keeps the most recent log records in a fixed-size ring so the
// debug API can show them without touching the log files on disk.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	size    int
	pos     int
	count   int
}

// NewLogBuffer creates a buffer holding up to size records.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 256
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Add appends a record, overwriting the oldest once full.
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.pos] = entry
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// Entries returns the buffered records in chronological order.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return []LogEntry{}
	}

	result := make([]LogEntry, b.count)
	if b.count < b.size {
		copy(result, b.entries[:b.count])
	} else {
		n := copy(result, b.entries[b.pos:])
		copy(result[n:], b.entries[:b.pos])
	}
	return result
}

// captureHandler tees slog records into a LogBuffer on their way to the
// real handler.
type captureHandler struct {
	buffer *LogBuffer
	inner  slog.Handler
	attrs  []slog.Attr
}

// NewCaptureHandler wraps inner so every record it handles is also kept
// in buffer.
func NewCaptureHandler(inner slog.Handler, buffer *LogBuffer) slog.Handler {
	return &captureHandler{buffer: buffer, inner: inner}
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	entry := LogEntry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}
	if len(attrs) > 0 {
		entry.Attrs = attrs
	}
	h.buffer.Add(entry)

	return h.inner.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{
		buffer: h.buffer,
		inner:  h.inner.WithAttrs(attrs),
		attrs:  append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
	}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{
		buffer: h.buffer,
		inner:  h.inner.WithGroup(name),
		attrs:  h.attrs,
	}
}
