package guard

import (
	"github.com/rs/zerolog"

	"github.com/developingchet/logfallback/internal/metrics"
)

// Recorder remembers whether a sink has failed since it was last reset.
//
// A Recorder is not safe for concurrent use; the Guard that owns it
// serialises every call under its own lock.
type Recorder struct {
	sink   string
	diag   zerolog.Logger
	failed bool
}

// NewRecorder returns a Recorder for the named sink that forwards every
// recorded failure to diag.
func NewRecorder(sinkName string, diag zerolog.Logger) *Recorder {
	return &Recorder{sink: sinkName, diag: diag}
}

// MarkFailed flags the sink as failed and reports err on the diagnostic
// channel.
func (r *Recorder) MarkFailed(err error) {
	r.failed = true
	metrics.SinkFailures.WithLabelValues(r.sink).Inc()
	r.diag.Warn().Err(err).Str("sink", r.sink).Msg("sink write failed")
}

// Failed reports whether a failure was recorded since the last Reset.
func (r *Recorder) Failed() bool { return r.failed }

// Reset clears the failure flag.
func (r *Recorder) Reset() { r.failed = false }
