// Package socket implements a sink that streams JSON lines to a TCP, UDP or
// Unix socket collector.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/sink"
)

const defaultTimeout = 5 * time.Second

// Config holds configuration for the socket sink.
type Config struct {
	Name    string
	Network string // tcp, udp or unix
	Address string
	Timeout time.Duration // dial and write timeout
}

// Sink writes one JSON line per record over a lazily dialled connection.
// After a write error the connection is discarded and the next write redials.
type Sink struct {
	name    string
	network string
	address string
	timeout time.Duration
	dialer  net.Dialer

	mu   sync.Mutex
	conn net.Conn
}

var (
	_ sink.Sink    = (*Sink)(nil)
	_ sink.Checker = (*Sink)(nil)
)

// New creates a socket sink. No connection is made until the first write.
func New(cfg Config) (*Sink, error) {
	switch cfg.Network {
	case "tcp", "tcp4", "tcp6", "udp", "udp4", "udp6", "unix":
	default:
		return nil, fmt.Errorf("socket sink %q: unsupported network %q", cfg.Name, cfg.Network)
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("socket sink %q: address is required", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	name := cfg.Name
	if name == "" {
		name = "socket"
	}
	return &Sink{
		name:    name,
		network: cfg.Network,
		address: cfg.Address,
		timeout: timeout,
		dialer:  net.Dialer{Timeout: timeout},
	}, nil
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) Write(ctx context.Context, r *record.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("socket sink %s: encode: %w", s.name, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := s.dialer.DialContext(ctx, s.network, s.address)
		if err != nil {
			return fmt.Errorf("socket sink %s: dial %s %s: %w", s.name, s.network, s.address, err)
		}
		s.conn = conn
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := s.conn.Write(data); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return fmt.Errorf("socket sink %s: write: %w", s.name, err)
	}
	return nil
}

// Healthy dials the collector without sending anything.
func (s *Sink) Healthy(ctx context.Context) error {
	conn, err := s.dialer.DialContext(ctx, s.network, s.address)
	if err != nil {
		return fmt.Errorf("socket sink %s: unreachable: %w", s.name, err)
	}
	return conn.Close()
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
