// Package metrics defines package-level Prometheus metric variables for
// logfallback. Call Register() once at startup to expose them on the default
// registry, or RegisterWith() to use an isolated registry in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RecordsReceived counts every record decoded from the relay input.
	RecordsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logfallback_records_received_total",
		Help: "Total records decoded from the relay input.",
	})

	// RecordsSkipped counts records rejected before routing, labelled by filter
	// name ("decode" for lines that could not be parsed).
	RecordsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logfallback_records_skipped_total",
		Help: "Records rejected before routing, by filter name.",
	}, []string{"filter"})

	// RecordsDelivered counts records accepted by a sink, labelled by sink name.
	RecordsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logfallback_records_delivered_total",
		Help: "Records accepted by a sink, by sink name.",
	}, []string{"sink"})

	// RecordsDropped counts records no sink accepted.
	RecordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logfallback_records_dropped_total",
		Help: "Records that every configured sink failed to accept.",
	})

	// SinkFailures counts failed write attempts, labelled by sink name.
	SinkFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logfallback_sink_failures_total",
		Help: "Failed sink write attempts, by sink name.",
	}, []string{"sink"})

	// Fallbacks counts hand-offs from a failing sink to the next one in order.
	Fallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logfallback_fallbacks_total",
		Help: "Times the router fell back from a failing sink to the next sink.",
	})

	// SuppressedAttempts counts writes skipped because the sink is marked failed.
	SuppressedAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logfallback_suppressed_attempts_total",
		Help: "Writes skipped because the sink is currently marked failed, by sink name.",
	}, []string{"sink"})

	// SinkResets counts suppression policy resets (retry windows re-opening).
	// Valid policies: time, count.
	SinkResets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logfallback_sink_resets_total",
		Help: "Failure-state resets performed by a suppression policy, by sink and policy (time|count).",
	}, []string{"sink", "policy"})

	// RelayActiveWorkers is the number of relay workers currently dispatching
	// a batch.
	RelayActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logfallback_relay_active_workers",
		Help: "Relay workers currently dispatching a batch.",
	})

	// SpoolRecords is a gauge of records currently held in the bbolt spool.
	SpoolRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logfallback_spool_records",
		Help: "Records currently held in the on-disk spool.",
	})

	// SpoolDBSizeBytes is the size of the spool database file on disk.
	SpoolDBSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logfallback_spool_db_size_bytes",
		Help: "Size of the spool bbolt database file in bytes.",
	})
)

// Register registers all metrics with prometheus.DefaultRegisterer.
// Call once at process startup.
func Register() {
	RegisterWith(prometheus.DefaultRegisterer)
}

// RegisterWith registers all metrics with the given registerer.
// Use an isolated prometheus.NewRegistry() in tests to avoid conflicts.
func RegisterWith(reg prometheus.Registerer) {
	reg.MustRegister(
		RecordsReceived,
		RecordsSkipped,
		RecordsDelivered,
		RecordsDropped,
		SinkFailures,
		Fallbacks,
		SuppressedAttempts,
		SinkResets,
		RelayActiveWorkers,
		SpoolRecords,
		SpoolDBSizeBytes,
	)
}
