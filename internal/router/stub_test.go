package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/sink"
)

var errStub = errors.New("stub: write failed")

// stubSink records every record it is asked to write, in order.
type stubSink struct {
	name string

	mu       sync.Mutex
	fail     bool
	failOn   map[string]bool // fail only for these messages
	calls    []string
	accepted []string
}

func newStub(name string) *stubSink { return &stubSink{name: name} }

func failing(name string) *stubSink {
	s := newStub(name)
	s.fail = true
	return s
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Write(_ context.Context, r *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Message)
	if s.fail || s.failOn[r.Message] {
		return errStub
	}
	s.accepted = append(s.accepted, r.Message)
	return nil
}

func (s *stubSink) Close() error { return nil }

func (s *stubSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *stubSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubSink) callMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubSink) acceptedMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accepted...)
}

// batchSink is a stubSink with an atomic batch write.
type batchSink struct {
	*stubSink
	batches int
}

func newBatch(name string) *batchSink { return &batchSink{stubSink: newStub(name)} }

func (s *batchSink) WriteBatch(_ context.Context, rs []*record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.fail {
		return errStub
	}
	for _, r := range rs {
		s.accepted = append(s.accepted, r.Message)
	}
	return nil
}

func (s *batchSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// closeErrSink fails on Close.
type closeErrSink struct{ *stubSink }

func (s *closeErrSink) Close() error { return errors.New("close failed") }

// diagLog collects the router's diagnostic output as decoded JSON lines.
type diagLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (d *diagLog) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Write(p)
}

func (d *diagLog) entries(t *testing.T) []map[string]any {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(d.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

// count returns how many entries have the given level and message.
func (d *diagLog) count(t *testing.T, level, msg string) int {
	t.Helper()
	n := 0
	for _, e := range d.entries(t) {
		if e["level"] == level && e["message"] == msg {
			n++
		}
	}
	return n
}

const (
	msgSinkError = "sink has an error so is not being written to"
	msgFallback  = "falling back to next sink"
	msgNoFurther = "no further sinks to fall back to"
)

// manualClock only moves when the test says so.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func rec(msg string) *record.Record { return &record.Record{Message: msg} }

// newActive builds an activated router over sinks, logging into a diagLog.
func newActive(t *testing.T, sinks ...sink.Sink) (*Router, *diagLog) {
	t.Helper()
	d := &diagLog{}
	r := New("fallback", zerolog.New(d), nil)
	for _, s := range sinks {
		r.AddSink(s)
	}
	if err := r.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return r, d
}
