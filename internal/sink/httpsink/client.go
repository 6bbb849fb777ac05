// Package httpsink implements a batch-capable sink that POSTs records as a
// JSON array to an HTTP log collector.
package httpsink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/logfallback/internal/record"
	"github.com/developingchet/logfallback/internal/sink"
)

// respBufPool reuses response body buffers across concurrent requests.
var respBufPool = sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, 4096)) },
}

const (
	defaultTimeout = 10 * time.Second
	healthTimeout  = 5 * time.Second
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// ErrRejected is returned when the collector answers with a non-retryable
// status.
var ErrRejected = errors.New("httpsink: collector rejected request")

// Config holds configuration for the HTTP sink.
type Config struct {
	Name    string
	URL     string
	Timeout time.Duration     // per request
	Headers map[string]string // added to every request, e.g. Authorization
}

// Client implements sink.BatchSink against an HTTP collector.
type Client struct {
	name       string
	url        string
	timeout    time.Duration
	headers    map[string]string
	backoff    time.Duration
	httpClient *http.Client
}

// Compile-time interface checks.
var (
	_ sink.BatchSink = (*Client)(nil)
	_ sink.Checker   = (*Client)(nil)
)

// New creates an HTTP sink client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http sink %q: url is required", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	name := cfg.Name
	if name == "" {
		name = "http"
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &Client{
		name:    name,
		url:     cfg.URL,
		timeout: timeout,
		headers: cfg.Headers,
		backoff: initialBackoff,
		httpClient: &http.Client{
			Transport: transport,
		},
	}, nil
}

func (c *Client) Name() string { return c.name }

// Write posts a single-element array.
func (c *Client) Write(ctx context.Context, r *record.Record) error {
	return c.WriteBatch(ctx, []*record.Record{r})
}

// WriteBatch posts every record in one request, retrying network errors and
// 5xx responses with doubling backoff.
func (c *Client) WriteBatch(ctx context.Context, rs []*record.Record) error {
	body, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("http sink %s: encode: %w", c.name, err)
	}
	return c.postWithRetry(ctx, body, len(rs))
}

func (c *Client) postWithRetry(ctx context.Context, payload []byte, n int) error {
	backoff := c.backoff

	for attempt := 1; attempt <= maxRetries; attempt++ {
		code, err := c.doPost(ctx, payload)
		retry := false
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt == maxRetries {
				return fmt.Errorf("http sink %s: all %d attempts failed: %w", c.name, maxRetries, err)
			}
			retry = true

		case code >= 200 && code < 300:
			return nil

		case code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: http sink %s: rate limited (429)", ErrRejected, c.name)

		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			log.Error().Str("sink", c.name).Int("http", code).Msg("collector refused credentials -- verify sink headers")
			return fmt.Errorf("%w: http sink %s: unauthorized (%d)", ErrRejected, c.name, code)

		case code >= 500:
			if attempt == maxRetries {
				return fmt.Errorf("http sink %s: unexpected http %d after %d attempts", c.name, code, maxRetries)
			}
			retry = true

		default:
			return fmt.Errorf("%w: http sink %s: http %d", ErrRejected, c.name, code)
		}

		if retry {
			log.Warn().
				Str("sink", c.name).
				Int("attempt", attempt).
				Int("max", maxRetries).
				Int("records", n).
				Dur("wait", backoff).
				Msg("retry")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	return fmt.Errorf("http sink %s: all %d attempts exhausted", c.name, maxRetries)
}

func (c *Client) doPost(ctx context.Context, payload []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain a bounded amount of the body so the connection can be reused.
	buf := respBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer respBufPool.Put(buf)
	_, _ = io.Copy(buf, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// Healthy checks collector reachability with a HEAD request. Any response
// below 500 other than 401/403 counts as reachable.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http sink %s: unreachable: %w", c.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("http sink %s: credentials refused (%d)", c.name, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("http sink %s: collector unhealthy (%d)", c.name, resp.StatusCode)
	}
	return nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
