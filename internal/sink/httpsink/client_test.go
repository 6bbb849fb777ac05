package httpsink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developingchet/logfallback/internal/record"
)

func TestMain(m *testing.M) {
	log.Logger = zerolog.Nop()
	m.Run()
}

// buildClient creates a Client wired to the given test server with a tiny
// backoff so retry tests stay fast.
func buildClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{
		Name:    "collector",
		URL:     url,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
	})
	require.NoError(t, err)
	c.backoff = time.Millisecond
	return c
}

func statusServer(code int, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.WriteHeader(code)
	}))
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{Name: "collector"})
	assert.Error(t, err)
}

func TestWriteBatch_Success(t *testing.T) {
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := buildClient(t, srv.URL)
	err := c.WriteBatch(context.Background(), []*record.Record{
		{Message: "one", Level: zerolog.InfoLevel},
		{Message: "two"},
	})
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.Equal(t, "one", received[0]["message"])
	assert.Equal(t, "info", received[0]["level"])
	assert.Equal(t, "two", received[1]["message"])
}

func TestWrite_SendsSingleElementArray(t *testing.T) {
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, buildClient(t, srv.URL).Write(context.Background(), &record.Record{Message: "solo"}))
	require.Len(t, received, 1)
	assert.Equal(t, "solo", received[0]["message"])
}

func TestWrite_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := statusServer(http.StatusBadGateway, &calls)
	defer srv.Close()

	err := buildClient(t, srv.URL).Write(context.Background(), &record.Record{Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&calls))
}

func TestWrite_RecoversAfterTransientServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, buildClient(t, srv.URL).Write(context.Background(), &record.Record{Message: "x"}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWrite_NoRetryOnClientErrors(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusTooManyRequests} {
		var calls int32
		srv := statusServer(code, &calls)

		err := buildClient(t, srv.URL).Write(context.Background(), &record.Record{Message: "x"})
		srv.Close()

		require.Error(t, err, "status %d", code)
		assert.ErrorIs(t, err, ErrRejected, "status %d", code)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "status %d must not be retried", code)
	}
}

func TestWrite_NetworkErrorRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := buildClient(t, url).Write(context.Background(), &record.Record{Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempts failed")
}

func TestWrite_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer func() {
		srv.CloseClientConnections()
		srv.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := buildClient(t, srv.URL).Write(ctx, &record.Record{Message: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHealthy(t *testing.T) {
	cases := []struct {
		code    int
		healthy bool
	}{
		{http.StatusOK, true},
		{http.StatusMethodNotAllowed, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		var calls int32
		srv := statusServer(tc.code, &calls)
		err := buildClient(t, srv.URL).Healthy(context.Background())
		srv.Close()
		if tc.healthy {
			assert.NoError(t, err, "status %d", tc.code)
		} else {
			assert.Error(t, err, "status %d", tc.code)
		}
	}
}

func TestHealthy_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	assert.Error(t, buildClient(t, url).Healthy(context.Background()))
}
