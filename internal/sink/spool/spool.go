// Package spool implements a batch-capable sink backed by the durable record
// spool. It is typically the last sink in a fallback chain: records land on
// local disk when every remote destination is down.
package spool

import (
	"context"
	"fmt"

	"github.com/developingchet/logfallback/internal/metrics"
	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/sink"
	"github.com/developingchet/logfallback/internal/storage"
)

// Sink appends records to a storage.Store. The sink owns the store and
// closes it on Close.
type Sink struct {
	name  string
	store storage.Store
}

var _ sink.BatchSink = (*Sink)(nil)

// New wraps an already opened store.
func New(name string, store storage.Store) *Sink {
	if name == "" {
		name = "spool"
	}
	return &Sink{name: name, store: store}
}

// Open opens (or creates) the bbolt spool at path and wraps it.
func Open(name, path string) (*Sink, error) {
	st, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spool sink %q: %w", name, err)
	}
	return New(name, st), nil
}

func (s *Sink) Name() string { return s.name }

// Store exposes the underlying spool for draining and pruning.
func (s *Sink) Store() storage.Store { return s.store }

func (s *Sink) Write(ctx context.Context, r *record.Record) error {
	return s.WriteBatch(ctx, []*record.Record{r})
}

// WriteBatch stores every record in one transaction.
func (s *Sink) WriteBatch(_ context.Context, rs []*record.Record) error {
	if err := s.store.AppendBatch(rs); err != nil {
		return fmt.Errorf("spool sink %s: %w", s.name, err)
	}
	metrics.SpoolRecords.Set(float64(s.store.Count()))
	return nil
}

func (s *Sink) Close() error { return s.store.Close() }
