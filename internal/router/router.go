// Package router delivers each record to the first sink, in configuration
// order, that accepts it. Failing sinks are skipped according to the
// configured suppression mode and every skip is reported on the diagnostic
// logger. Sink failures never surface as errors to the caller.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/logfallback/internal/guard"
	"github.com/developingchet/logfallback/internal/metrics"
	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/sink"
)

const (
	DefaultMinutesTimeout = 5
	DefaultAppendCount    = 10
)

var (
	ErrNilRecord    = errors.New("router: nil record")
	ErrNilBatch     = errors.New("router: nil batch")
	ErrEmptyBatch   = errors.New("router: batch must not be empty")
	ErrNotActivated = errors.New("router: not activated")

	// ErrExhausted is returned by Write (not by Dispatch) when no configured
	// sink accepted the record, so that a parent router can fall back past
	// this one.
	ErrExhausted = errors.New("router: no sink accepted the write")
)

// Compile-time proof that a Router can itself be routed to. A Router is not
// a sink.BatchSink: a parent router hands it one record at a time and
// forwards only the records it rejects.
var (
	_ sink.Sink    = (*Router)(nil)
	_ sink.Checker = (*Router)(nil)
)

// SinkStatus is a point-in-time view of one guarded sink.
type SinkStatus struct {
	Name   string
	Failed bool
	Batch  bool
}

// Router owns the ordered sink list and the guards built from it.
type Router struct {
	name  string
	diag  zerolog.Logger
	clock guard.Clock

	cfgMu          sync.Mutex
	sinks          []sink.Sink
	mode           Mode
	minutesTimeout int
	appendCount    int

	mu     sync.RWMutex
	guards []guard.Guarded // nil until Activate
}

// New returns an inactive router. diag receives the failure and fallback
// notes; clk drives the time-windowed mode and may be nil for wall time.
func New(name string, diag zerolog.Logger, clk guard.Clock) *Router {
	if clk == nil {
		clk = guard.SystemClock()
	}
	return &Router{
		name:           name,
		diag:           diag.With().Str("router", name).Logger(),
		clock:          clk,
		mode:           ModeIndefinite,
		minutesTimeout: DefaultMinutesTimeout,
		appendCount:    DefaultAppendCount,
	}
}

// AddSink appends s to the ordered sink list. It takes effect at the next
// Activate.
func (r *Router) AddSink(s sink.Sink) {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Sinks returns the configured sinks in order.
func (r *Router) Sinks() []sink.Sink {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	return append([]sink.Sink(nil), r.sinks...)
}

func (r *Router) Mode() Mode {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	return r.mode
}

func (r *Router) SetMode(m Mode) {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	r.mode = m
}

func (r *Router) MinutesTimeout() int {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	return r.minutesTimeout
}

// SetMinutesTimeout sets the retry window for ModeTime. Values of zero or
// less are ignored and the previous value is kept.
func (r *Router) SetMinutesTimeout(minutes int) {
	if minutes <= 0 {
		return
	}
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	r.minutesTimeout = minutes
}

func (r *Router) AppendCount() int {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	return r.appendCount
}

// SetAppendCount sets the suppressed-write threshold for ModeCount. Values
// below one are ignored and the previous value is kept.
func (r *Router) SetAppendCount(n int) {
	if n < 1 {
		return
	}
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	r.appendCount = n
}

// Activate wraps every configured sink in a guard with the current mode and
// tunables. Calling it again rebuilds the guards and discards all failure
// state. It must not run concurrently with in-flight dispatches that are
// expected to observe the old state.
func (r *Router) Activate() error {
	r.cfgMu.Lock()
	sinks := append([]sink.Sink(nil), r.sinks...)
	mode, minutes, count := r.mode, r.minutesTimeout, r.appendCount
	r.cfgMu.Unlock()

	guards := make([]guard.Guarded, 0, len(sinks))
	for i, s := range sinks {
		g, err := guard.New(s, r.diag)
		if err != nil {
			return fmt.Errorf("router %s: sink #%d: %w", r.name, i, err)
		}
		guards = append(guards, r.wrap(g, mode, minutes, count))
	}

	r.mu.Lock()
	r.guards = guards
	r.mu.Unlock()

	r.diag.Debug().
		Int("sinks", len(guards)).
		Str("mode", mode.String()).
		Msg("router activated")
	return nil
}

func (r *Router) wrap(g *guard.Guard, mode Mode, minutes, count int) guard.Guarded {
	switch mode {
	case ModeTime:
		return guard.NewTimeWindow(g, time.Duration(minutes)*time.Minute, r.clock)
	case ModeCount:
		return guard.NewCountWindow(g, count)
	default:
		return guard.NewIndefinite(g)
	}
}

func (r *Router) active() ([]guard.Guarded, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.guards == nil {
		return nil, ErrNotActivated
	}
	return r.guards, nil
}

// Dispatch delivers rec to the first sink that accepts it. A record no sink
// accepts is dropped and reported only on the diagnostic logger.
func (r *Router) Dispatch(ctx context.Context, rec *record.Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	guards, err := r.active()
	if err != nil {
		return err
	}
	if !r.route(ctx, guards, rec) {
		metrics.RecordsDropped.Inc()
	}
	return nil
}

// DispatchBatch delivers recs. Batch-capable sinks receive the pending
// records as one atomic write; other sinks receive each pending record
// individually, and only the records they reject move on to the next sink.
func (r *Router) DispatchBatch(ctx context.Context, recs []*record.Record) error {
	if err := checkBatch(recs); err != nil {
		return err
	}
	if len(recs) == 1 {
		return r.Dispatch(ctx, recs[0])
	}
	guards, err := r.active()
	if err != nil {
		return err
	}
	if n := r.routeBatch(ctx, guards, recs); n > 0 {
		metrics.RecordsDropped.Add(float64(n))
	}
	return nil
}

func checkBatch(recs []*record.Record) error {
	if recs == nil {
		return ErrNilBatch
	}
	if len(recs) == 0 {
		return ErrEmptyBatch
	}
	for _, rec := range recs {
		if rec == nil {
			return ErrNilRecord
		}
	}
	return nil
}

func (r *Router) route(ctx context.Context, guards []guard.Guarded, rec *record.Record) bool {
	for i, g := range guards {
		if g.TryWrite(ctx, rec) {
			metrics.RecordsDelivered.WithLabelValues(g.Name()).Inc()
			return true
		}
		r.recordSinkError(guards, i)
	}
	if len(guards) == 0 {
		r.diag.Warn().Msg("no further sinks to fall back to")
	}
	return false
}

// routeBatch returns the number of records no sink accepted.
func (r *Router) routeBatch(ctx context.Context, guards []guard.Guarded, recs []*record.Record) int {
	pending := recs
	for i, g := range guards {
		if sink.SupportsBatch(g.Sink()) {
			if g.TryWriteBatch(ctx, pending) {
				metrics.RecordsDelivered.WithLabelValues(g.Name()).Add(float64(len(pending)))
				return 0
			}
		} else {
			var rejected []*record.Record
			for _, rec := range pending {
				if g.TryWrite(ctx, rec) {
					metrics.RecordsDelivered.WithLabelValues(g.Name()).Inc()
					continue
				}
				rejected = append(rejected, rec)
			}
			if len(rejected) == 0 {
				return 0
			}
			pending = rejected
		}
		r.recordSinkError(guards, i)
	}
	if len(guards) == 0 {
		r.diag.Warn().Msg("no further sinks to fall back to")
	}
	return len(pending)
}

// recordSinkError reports that guards[i] did not accept the write and names
// the sink the router moves on to, if any.
func (r *Router) recordSinkError(guards []guard.Guarded, i int) {
	failed := guards[i].Name()
	r.diag.Error().Str("sink", failed).Msg("sink has an error so is not being written to")
	if i+1 < len(guards) {
		metrics.Fallbacks.Inc()
		r.diag.Debug().Str("sink", failed).Str("next", guards[i+1].Name()).Msg("falling back to next sink")
		return
	}
	r.diag.Warn().Str("sink", failed).Msg("no further sinks to fall back to")
}

// Status reports the failure state of every guarded sink in order.
func (r *Router) Status() []SinkStatus {
	guards, err := r.active()
	if err != nil {
		return nil
	}
	out := make([]SinkStatus, len(guards))
	for i, g := range guards {
		out[i] = SinkStatus{
			Name:   g.Name(),
			Failed: g.Failed(),
			Batch:  sink.SupportsBatch(g.Sink()),
		}
	}
	return out
}

// --- sink.Sink ---

// Name returns the router name.
func (r *Router) Name() string { return r.name }

// Write routes rec like Dispatch but returns ErrExhausted when no sink
// accepted it. The record is not counted as dropped here; a parent router
// may still deliver it.
func (r *Router) Write(ctx context.Context, rec *record.Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	guards, err := r.active()
	if err != nil {
		return err
	}
	if !r.route(ctx, guards, rec) {
		return ErrExhausted
	}
	return nil
}

// Healthy returns nil while at least one sink is not marked failed.
func (r *Router) Healthy(_ context.Context) error {
	status := r.Status()
	if status == nil {
		return ErrNotActivated
	}
	for _, s := range status {
		if !s.Failed {
			return nil
		}
	}
	return fmt.Errorf("router %s: all %d sinks are marked failed", r.name, len(status))
}

// Close closes every configured sink and returns the joined errors.
func (r *Router) Close() error {
	var errs []error
	for _, s := range r.Sinks() {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
