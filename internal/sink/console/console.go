// Package console implements a sink that prints human-readable records to
// stdout or stderr using zerolog's console formatter.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/sink"
)

// Config holds configuration for the console sink.
type Config struct {
	Name   string
	Target string    // "stdout" or "stderr" (default)
	Out    io.Writer // overrides Target when set
}

// Sink formats each record as one console line.
type Sink struct {
	name string

	mu sync.Mutex
	cw zerolog.ConsoleWriter
}

var _ sink.Sink = (*Sink)(nil)

// New creates a console sink.
func New(cfg Config) (*Sink, error) {
	out := cfg.Out
	if out == nil {
		switch cfg.Target {
		case "", "stderr":
			out = os.Stderr
		case "stdout":
			out = os.Stdout
		default:
			return nil, fmt.Errorf("console sink %q: unknown target %q (want stdout|stderr)", cfg.Name, cfg.Target)
		}
	}
	name := cfg.Name
	if name == "" {
		name = "console"
	}
	return &Sink{
		name: name,
		cw: zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    true,
			TimeFormat: time.RFC3339,
		},
	}, nil
}

func (s *Sink) Name() string { return s.name }

// Write prints r. The ConsoleWriter consumes the record's JSON form, so the
// logger name and extra fields appear as key=value pairs after the message.
func (s *Sink) Write(_ context.Context, r *record.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("console sink %s: encode: %w", s.name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.cw.Write(data); err != nil {
		return fmt.Errorf("console sink %s: %w", s.name, err)
	}
	return nil
}

// Close is a no-op; the process owns stdout and stderr.
func (s *Sink) Close() error { return nil }
