package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/logfallback/internal/metrics"
	"github.com/developingchet/logfallback/internal/record"
)

type workerPool struct {
	jobCh       chan []*record.Record
	wg          sync.WaitGroup
	activeCount atomic.Int64
	out         Dispatcher
}

// newWorkerPool creates and starts count worker goroutines, each reading from a
// buffered channel of capacity buf. Workers exit once stop() has closed the
// channel and it is drained.
func newWorkerPool(ctx context.Context, count, buf int, out Dispatcher) *workerPool {
	p := &workerPool{
		jobCh: make(chan []*record.Record, buf),
		out:   out,
	}
	for i := 0; i < count; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
	return p
}

// submit enqueues a batch, blocking while the buffer is full so that a slow
// sink chain applies backpressure to the input.
func (p *workerPool) submit(batch []*record.Record) {
	p.jobCh <- batch
}

// stop closes the job channel and waits for all workers to finish draining it.
func (p *workerPool) stop() {
	close(p.jobCh)
	p.wg.Wait()
}

func (p *workerPool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	for batch := range p.jobCh {
		p.processJob(ctx, batch)
	}
}

func (p *workerPool) processJob(ctx context.Context, batch []*record.Record) {
	p.activeCount.Add(1)
	metrics.RelayActiveWorkers.Inc()
	defer func() {
		p.activeCount.Add(-1)
		metrics.RelayActiveWorkers.Dec()
	}()

	if err := p.out.DispatchBatch(ctx, batch); err != nil {
		log.Error().Err(err).Int("records", len(batch)).Msg("dispatch failed")
		return
	}
	log.Debug().Int("records", len(batch)).Msg("batch dispatched")
}
