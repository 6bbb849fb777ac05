package guard

import (
	"context"
	"time"

	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/sink"
)

const (
	// DefaultWindow is used when a TimeWindow is built with a non-positive window.
	DefaultWindow = 5 * time.Minute

	// DefaultThreshold is used when a CountWindow is built with a threshold below one.
	DefaultThreshold = 10
)

// Indefinite never clears a recorded failure: once the sink fails it is
// skipped for the rest of the guard's lifetime.
type Indefinite struct {
	g *Guard
}

// NewIndefinite wraps g with the never-retry policy.
func NewIndefinite(g *Guard) *Indefinite { return &Indefinite{g: g} }

func (p *Indefinite) Name() string    { return p.g.Name() }
func (p *Indefinite) Sink() sink.Sink { return p.g.Sink() }
func (p *Indefinite) Failed() bool    { return p.g.Failed() }

func (p *Indefinite) TryWrite(ctx context.Context, r *record.Record) bool {
	return p.g.TryWrite(ctx, r)
}

func (p *Indefinite) TryWriteBatch(ctx context.Context, rs []*record.Record) bool {
	return p.g.TryWriteBatch(ctx, rs)
}

// TimeWindow retries a failed sink once window has elapsed since the failing
// attempt. The failure time is stamped when the write fails; suppressed calls
// inside the window do not move it.
type TimeWindow struct {
	g           *Guard
	window      time.Duration
	clock       Clock
	lastFailure time.Time
}

// NewTimeWindow wraps g with the time-windowed policy. A nil clock means
// SystemClock.
func NewTimeWindow(g *Guard, window time.Duration, clock Clock) *TimeWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &TimeWindow{g: g, window: window, clock: clock}
}

func (p *TimeWindow) Name() string          { return p.g.Name() }
func (p *TimeWindow) Sink() sink.Sink       { return p.g.Sink() }
func (p *TimeWindow) Failed() bool          { return p.g.Failed() }
func (p *TimeWindow) Window() time.Duration { return p.window }

func (p *TimeWindow) TryWrite(ctx context.Context, r *record.Record) bool {
	return p.try(p.g.singleWrite(ctx, r))
}

func (p *TimeWindow) TryWriteBatch(ctx context.Context, rs []*record.Record) bool {
	return p.try(p.g.batchWrite(ctx, rs))
}

func (p *TimeWindow) try(write func() error) bool {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()

	if p.g.rec.Failed() && !p.lastFailure.IsZero() && p.clock.Now().Sub(p.lastFailure) >= p.window {
		p.g.resetLocked("time")
	}

	ok, called := p.g.tryLocked(write)
	if called && !ok {
		p.lastFailure = p.clock.Now()
	}
	return ok
}

// CountWindow throttles retries of a failed sink to one attempt per
// threshold incoming writes: after a failure, the next threshold-1 calls are
// suppressed and the threshold-th call resets the guard and reaches the sink.
type CountWindow struct {
	g         *Guard
	threshold int
	streak    int
}

// NewCountWindow wraps g with the count-windowed policy.
func NewCountWindow(g *Guard, threshold int) *CountWindow {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &CountWindow{g: g, threshold: threshold}
}

func (p *CountWindow) Name() string    { return p.g.Name() }
func (p *CountWindow) Sink() sink.Sink { return p.g.Sink() }
func (p *CountWindow) Failed() bool    { return p.g.Failed() }
func (p *CountWindow) Threshold() int  { return p.threshold }

func (p *CountWindow) TryWrite(ctx context.Context, r *record.Record) bool {
	return p.try(p.g.singleWrite(ctx, r))
}

func (p *CountWindow) TryWriteBatch(ctx context.Context, rs []*record.Record) bool {
	return p.try(p.g.batchWrite(ctx, rs))
}

func (p *CountWindow) try(write func() error) bool {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()

	if p.g.attempted && p.g.rec.Failed() {
		p.streak++
		if p.streak >= p.threshold {
			p.streak = 0
			p.g.resetLocked("count")
		}
	}

	ok, _ := p.g.tryLocked(write)
	return ok
}
