// Package relay implements the main event loop that reads JSON-lines records,
// runs them through the filter pipeline and hands batches to the fallback
// router.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/developingchet/logfallback/internal/config"
	"github.com/developingchet/logfallback/internal/metrics"
	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/storage"
)

const maxLineBytes = 1 << 20 // longest accepted input line

// Dispatcher is the part of the router the relay depends on.
type Dispatcher interface {
	DispatchBatch(ctx context.Context, recs []*record.Record) error
	Healthy(ctx context.Context) error
}

// Relay connects a JSON-lines input to a Dispatcher.
type Relay struct {
	cfg     *config.Config
	out     Dispatcher
	filters []record.Filter
	spool   storage.Store // nil when no spool sink is configured
	httpSrv *http.Server  // nil when MetricsAddr == ""
	now     func() time.Time
}

// New creates a Relay. spool may be nil.
func New(cfg *config.Config, out Dispatcher, spool storage.Store) (*Relay, error) {
	filters, err := buildFilters(cfg)
	if err != nil {
		return nil, err
	}

	tuned := *cfg
	if tuned.RelayWorkers < 1 {
		tuned.RelayWorkers = 1
	}
	if tuned.RelayBuffer < 1 {
		tuned.RelayBuffer = 1
	}
	if tuned.BatchSize < 1 {
		tuned.BatchSize = 1
	}
	if tuned.FlushInterval <= 0 {
		tuned.FlushInterval = time.Second
	}
	cfg = &tuned

	r := &Relay{
		cfg:     cfg,
		out:     out,
		filters: filters,
		spool:   spool,
		now:     time.Now,
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
			if err := r.Healthy(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.httpSrv = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
	}

	return r, nil
}

// buildFilters constructs the ordered filter pipeline.
func buildFilters(cfg *config.Config) ([]record.Filter, error) {
	minimum, err := zerolog.ParseLevel(cfg.MinLevel)
	if err != nil {
		return nil, fmt.Errorf("relay: min level: %w", err)
	}
	if minimum == zerolog.NoLevel {
		minimum = zerolog.TraceLevel
	}
	return []record.Filter{
		record.MessageRequired(),
		record.LevelAtLeast(minimum),
		record.LoggerExclude(cfg.ExcludeLoggers...),
	}, nil
}

// Run reads records from in until it is exhausted or ctx is cancelled. Pending
// batches are delivered before Run returns.
func (r *Relay) Run(ctx context.Context, in io.Reader) error {
	if r.httpSrv != nil {
		go func() {
			log.Info().Str("addr", r.cfg.MetricsAddr).Msg("metrics server listening")
			if err := r.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	if r.spool != nil && r.cfg.JanitorInterval > 0 {
		go runJanitor(janitorCtx, r.spool, r.cfg.SpoolRetention, r.cfg.JanitorInterval)
	}

	// Workers outlive ctx so that batches already queued at shutdown are
	// still delivered.
	pool := newWorkerPool(context.WithoutCancel(ctx), r.cfg.RelayWorkers, r.cfg.RelayBuffer, r.out)

	log.Info().
		Int("workers", r.cfg.RelayWorkers).
		Int("batch_size", r.cfg.BatchSize).
		Str("flush_interval", r.cfg.FlushInterval.String()).
		Str("min_level", r.cfg.MinLevel).
		Msg("relay started")

	recs := make(chan *record.Record, r.cfg.BatchSize)
	readErr := make(chan error, 1)
	go r.readInput(ctx, in, recs, readErr)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*record.Record, 0, r.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		pool.submit(batch)
		batch = make([]*record.Record, 0, r.cfg.BatchSize)
	}

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case rec, ok := <-recs:
			if !ok {
				select {
				case err = <-readErr:
				default:
				}
				break loop
			}
			batch = append(batch, rec)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}

	flush()
	pool.stop()
	log.Info().Msg("relay stopped")
	return err
}

// readInput decodes and filters lines, sending survivors to out. out is
// closed when in is exhausted; a read error is reported on errc first.
func (r *Relay) readInput(ctx context.Context, in io.Reader, out chan<- *record.Record, errc chan<- error) {
	defer close(out)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		rec := r.process(line)
		if rec == nil {
			continue
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		errc <- fmt.Errorf("relay: read input: %w", err)
	}
}

// process decodes a single line and runs it through the filter pipeline.
// It returns nil when the line is skipped.
func (r *Relay) process(line []byte) *record.Record {
	rec, err := record.Decode(line, r.now())
	if err != nil {
		metrics.RecordsSkipped.WithLabelValues("decode").Inc()
		log.Debug().Err(err).Msg("record skipped (decode)")
		return nil
	}
	metrics.RecordsReceived.Inc()

	if reason := record.Pipeline(r.filters, rec); reason != nil {
		metrics.RecordsSkipped.WithLabelValues(reason.Filter).Inc()
		log.Debug().
			Str("logger", rec.Logger).
			Str("filter", reason.Filter).
			Str("detail", reason.Detail).
			Msg("record filtered")
		return nil
	}
	return rec
}

// Healthy reports whether the dispatcher still has a usable sink.
func (r *Relay) Healthy(ctx context.Context) error {
	return r.out.Healthy(ctx)
}

// Close stops the metrics server. Sinks are owned and closed by the router.
func (r *Relay) Close() {
	if r.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.httpSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}
	if r.spool != nil {
		pruneSpool(r.spool, r.cfg.SpoolRetention, r.now())
	}
}
