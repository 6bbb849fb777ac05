package guard

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/logfallback/internal/record"
)

var errStub = errors.New("stub: write failed")

// stubSink counts writes and fails or panics on demand.
type stubSink struct {
	name string

	mu      sync.Mutex
	fail    bool
	panics  bool
	writes  int
	written []*record.Record
}

func newStub(name string) *stubSink { return &stubSink{name: name} }

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Write(_ context.Context, r *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.panics {
		panic("boom")
	}
	if s.fail {
		return errStub
	}
	s.written = append(s.written, r)
	return nil
}

func (s *stubSink) Close() error { return nil }

func (s *stubSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *stubSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// batchStub adds an atomic batch write to stubSink.
type batchStub struct {
	*stubSink
	batches int
}

func (s *batchStub) WriteBatch(_ context.Context, rs []*record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.fail {
		return errStub
	}
	s.written = append(s.written, rs...)
	return nil
}

// manualClock only moves when the test says so.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2009, 1, 1, 10, 0, 0, 0, time.UTC)}
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

func quietLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func mustGuard(s *stubSink) *Guard {
	g, err := New(s, quietLogger())
	if err != nil {
		panic(err)
	}
	return g
}

func rec(msg string) *record.Record { return &record.Record{Message: msg} }
