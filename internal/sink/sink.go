package sink

import (
	"context"
	"errors"

	"github.com/developingchet/logfallback/internal/record"
)

// ErrUnsupportedKind is returned when a sink cannot be guarded: either the
// value has no error-reporting write path at all, or configuration names a
// sink kind this build does not know how to construct.
var ErrUnsupportedKind = errors.New("sink: unsupported sink kind")

// Sink receives routed records. A failed write is reported by the returned
// error; implementations must not panic on I/O failure.
type Sink interface {
	// Name returns the sink identifier for logging.
	Name() string

	// Write delivers a single record.
	Write(ctx context.Context, r *record.Record) error

	// Close performs graceful shutdown.
	Close() error
}

// BatchSink is implemented by sinks that can accept a whole batch as one
// atomic write. Either every record is accepted or the error is returned.
type BatchSink interface {
	Sink
	WriteBatch(ctx context.Context, rs []*record.Record) error
}

// Checker is implemented by sinks that can verify their destination is
// reachable without writing a record.
type Checker interface {
	Healthy(ctx context.Context) error
}

// SupportsBatch reports whether s accepts atomic batch writes.
func SupportsBatch(s Sink) bool {
	_, ok := s.(BatchSink)
	return ok
}
