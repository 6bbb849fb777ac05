// Package file implements a batch-capable sink that appends JSON lines to a
// size-rotated log file.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/sink"
)

// Config holds configuration for the file sink.
type Config struct {
	Name       string
	Path       string
	MaxSizeMB  int // rotate after this many megabytes; 0 means lumberjack's default (100)
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Sink writes one JSON document per line.
type Sink struct {
	name string
	path string

	mu  sync.Mutex
	out *lumberjack.Logger
}

var (
	_ sink.BatchSink = (*Sink)(nil)
	_ sink.Checker   = (*Sink)(nil)
)

// New creates a file sink. The file is opened lazily on first write.
func New(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file sink %q: path is required", cfg.Name)
	}
	name := cfg.Name
	if name == "" {
		name = "file"
	}
	return &Sink{
		name: name,
		path: cfg.Path,
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}, nil
}

func (s *Sink) Name() string { return s.name }

// Write appends r as a single line.
func (s *Sink) Write(ctx context.Context, r *record.Record) error {
	return s.WriteBatch(ctx, []*record.Record{r})
}

// WriteBatch encodes every record first and then issues one write, so an
// encoding failure leaves the file untouched.
func (s *Sink) WriteBatch(_ context.Context, rs []*record.Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rs {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("file sink %s: encode: %w", s.name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("file sink %s: write %s: %w", s.name, s.path, err)
	}
	return nil
}

// Healthy checks that the target directory exists and is writable.
func (s *Sink) Healthy(_ context.Context) error {
	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, ".logfallback-healthcheck-*")
	if err != nil {
		return fmt.Errorf("file sink %s: directory %s not writable: %w", s.name, dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Close closes the current log file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}
