package relay

import (
	"context"
	"sync"
	"time"

	"github.com/developingchet/logfallback/internal/config"
	"github.com/developingchet/logfallback/internal/record"
)

// recordingDispatcher keeps every batch it receives.
type recordingDispatcher struct {
	mu        sync.Mutex
	batches   [][]*record.Record
	healthErr error
	delay     time.Duration
}

func (d *recordingDispatcher) DispatchBatch(ctx context.Context, recs []*record.Record) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, recs)
	return nil
}

func (d *recordingDispatcher) Healthy(context.Context) error { return d.healthErr }

func (d *recordingDispatcher) batchSizes() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.batches))
	for i, b := range d.batches {
		out[i] = len(b)
	}
	return out
}

func (d *recordingDispatcher) messages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, b := range d.batches {
		for _, r := range b {
			out = append(out, r.Message)
		}
	}
	return out
}

func baseConfig() *config.Config {
	return &config.Config{
		LogLevel:        "info",
		LogFormat:       "json",
		RouterName:      "fallback",
		RouterMode:      "indefinite",
		RelayWorkers:    1,
		RelayBuffer:     16,
		BatchSize:       100,
		FlushInterval:   time.Hour,
		SpoolRetention:  time.Hour,
		JanitorInterval: time.Hour,
	}
}
