// Package guard wraps sinks so that a failing write is recorded instead of
// propagated, and decides through a suppression policy when a failed sink is
// attempted again.
package guard

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/developingchet/logfallback/internal/metrics"
	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/sink"
)

// Guarded is a sink wrapped with failure tracking. TryWrite and
// TryWriteBatch never return an error: false means the sink did not accept
// the write, either because it failed now or because it is suppressed.
//
// TryWriteBatch accepts any sink. A sink.BatchSink gets one WriteBatch call;
// any other sink gets the records one by one, and the first error fails the
// whole attempt. The router only batches to batch-capable sinks and drives
// the others through TryWrite so it can forward just the rejected records.
type Guarded interface {
	Name() string
	Sink() sink.Sink
	TryWrite(ctx context.Context, r *record.Record) bool
	TryWriteBatch(ctx context.Context, rs []*record.Record) bool
	Failed() bool
}

// Compile-time proof that every policy satisfies Guarded.
var (
	_ Guarded = (*Guard)(nil)
	_ Guarded = (*Indefinite)(nil)
	_ Guarded = (*TimeWindow)(nil)
	_ Guarded = (*CountWindow)(nil)
)

// Guard owns exactly one sink and its Recorder. Every state transition
// happens under mu, so two callers racing on the same sink can never both
// observe "not failed" and both issue a doomed write.
type Guard struct {
	mu        sync.Mutex
	name      string
	sink      sink.Sink
	rec       *Recorder
	diag      zerolog.Logger
	attempted bool
}

// New wraps s. It returns sink.ErrUnsupportedKind when s is nil.
func New(s sink.Sink, diag zerolog.Logger) (*Guard, error) {
	if s == nil {
		return nil, fmt.Errorf("guard: nil sink: %w", sink.ErrUnsupportedKind)
	}
	name := s.Name()
	return &Guard{
		name: name,
		sink: s,
		rec:  NewRecorder(name, diag),
		diag: diag,
	}, nil
}

// Name returns the wrapped sink's name.
func (g *Guard) Name() string { return g.name }

// Sink returns the wrapped sink.
func (g *Guard) Sink() sink.Sink { return g.sink }

// Failed reports whether the sink is currently marked failed.
func (g *Guard) Failed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec.Failed()
}

// TryWrite attempts to write r. The very first call always reaches the sink;
// later calls reach it only while no failure is recorded.
func (g *Guard) TryWrite(ctx context.Context, r *record.Record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ok, _ := g.tryLocked(g.singleWrite(ctx, r))
	return ok
}

// TryWriteBatch is TryWrite for a whole batch treated as one attempt.
func (g *Guard) TryWriteBatch(ctx context.Context, rs []*record.Record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ok, _ := g.tryLocked(g.batchWrite(ctx, rs))
	return ok
}

func (g *Guard) singleWrite(ctx context.Context, r *record.Record) func() error {
	return func() error { return g.sink.Write(ctx, r) }
}

// batchWrite uses the sink's atomic batch write when it has one; otherwise
// the records are written in order and the first error ends the attempt.
// Records written before that error stay written.
func (g *Guard) batchWrite(ctx context.Context, rs []*record.Record) func() error {
	return func() error {
		if bs, ok := g.sink.(sink.BatchSink); ok {
			return bs.WriteBatch(ctx, rs)
		}
		for _, r := range rs {
			if err := g.sink.Write(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}
}

// tryLocked runs write if the guard allows it and reports whether the sink
// is healthy afterwards and whether write was actually called. g.mu must be
// held.
func (g *Guard) tryLocked(write func() error) (ok bool, called bool) {
	switch {
	case !g.attempted:
		g.attempted = true
		g.call(write)
		called = true
	case !g.rec.Failed():
		g.call(write)
		called = true
	default:
		metrics.SuppressedAttempts.WithLabelValues(g.name).Inc()
	}
	return !g.rec.Failed(), called
}

func (g *Guard) call(write func() error) {
	if err := safeCall(write); err != nil {
		g.rec.MarkFailed(err)
	}
}

// resetLocked clears the failure flag on behalf of a policy. g.mu must be held.
func (g *Guard) resetLocked(policy string) {
	g.rec.Reset()
	metrics.SinkResets.WithLabelValues(g.name, policy).Inc()
	g.diag.Debug().Str("sink", g.name).Str("policy", policy).Msg("retry window reopened")
}

// safeCall converts a panicking sink into a recorded failure.
func safeCall(write func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panicked: %v", p)
		}
	}()
	return write()
}
