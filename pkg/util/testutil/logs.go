package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// Record is a captured log line.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogCapture is a slog handler that keeps every record for assertions.
type LogCapture struct {
	mu      *sync.Mutex
	records *[]Record
	attrs   []slog.Attr
}

func NewLogCapture() *LogCapture {
	return &LogCapture{mu: &sync.Mutex{}, records: &[]Record{}}
}

func (c *LogCapture) Logger() *slog.Logger { return slog.New(c) }

func (c *LogCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *LogCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(c.attrs)+r.NumAttrs())
	for _, a := range c.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.records = append(*c.records, Record{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

func (c *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogCapture{
		mu:      c.mu,
		records: c.records,
		attrs:   append(append([]slog.Attr(nil), c.attrs...), attrs...),
	}
}

// WithGroup is flattened; tests only look at top-level keys.
func (c *LogCapture) WithGroup(string) slog.Handler { return c }

func (c *LogCapture) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), *c.records...)
}

// Find returns the records whose message equals msg.
func (c *LogCapture) Find(msg string) []Record {
	var out []Record
	for _, r := range c.Records() {
		if r.Message == msg {
			out = append(out, r)
		}
	}
	return out
}
