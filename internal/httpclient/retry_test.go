package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryHandlerConfig {
	cfg := DefaultRetryHandlerConfig(maxRetries)
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.EnableJitter = false
	return cfg
}

func TestRetryHandler_CalculateDelay(t *testing.T) {
	rh := NewRetryHandler(RetryHandlerConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   300 * time.Millisecond,
	}, zerolog.Nop())

	assert.Equal(t, 100*time.Millisecond, rh.CalculateDelay(0))
	assert.Equal(t, 200*time.Millisecond, rh.CalculateDelay(1))
	assert.Equal(t, 300*time.Millisecond, rh.CalculateDelay(2))
}

func TestRetryHandler_JitterOnTinyDelay(t *testing.T) {
	rh := NewRetryHandler(RetryHandlerConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, EnableJitter: true}, zerolog.Nop())
	assert.NotPanics(t, func() { rh.CalculateDelay(1) })
}

func TestRetryHandler_ShouldRetry(t *testing.T) {
	rh := NewRetryHandler(fastRetry(2), zerolog.Nop())

	assert.True(t, rh.ShouldRetry(http.StatusServiceUnavailable, 0))
	assert.False(t, rh.ShouldRetry(http.StatusServiceUnavailable, 2))
	assert.False(t, rh.ShouldRetry(http.StatusNotFound, 0))
}

func TestHTTPClient_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, err := NewHTTPClientBuilder(zerolog.Nop()).WithRetry(fastRetry(3)).Build()
	require.NoError(t, err)

	resp, err := client.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewHTTPClientBuilder(zerolog.Nop()).WithRetry(fastRetry(2)).Build()
	require.NoError(t, err)

	_, err = client.Get(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_StreamRetriesStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	client, err := NewHTTPClientBuilder(zerolog.Nop()).WithRetry(fastRetry(2)).Build()
	require.NoError(t, err)

	resp, err := client.Stream(&HTTPRequest{URL: server.URL})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(2), calls.Load())
}

// dropFirst closes the connection without a response on the first n requests.
func dropFirst(t *testing.T, n int32, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= n {
			hj, ok := w.(http.Hijacker)
			if !assert.True(t, ok) {
				return
			}
			conn, _, err := hj.Hijack()
			if assert.NoError(t, err) {
				_ = conn.Close()
			}
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	t.Cleanup(server.Close)
	return server
}

func backoffRetry(maxRetries int, base time.Duration) RetryHandlerConfig {
	cfg := DefaultRetryHandlerConfig(maxRetries)
	cfg.BaseDelay = base
	cfg.MaxDelay = 4 * base
	cfg.EnableJitter = false
	return cfg
}

func TestHTTPClient_StreamBacksOffAfterNetworkError(t *testing.T) {
	var calls atomic.Int32
	server := dropFirst(t, 1, &calls)

	client, err := NewHTTPClientBuilder(zerolog.Nop()).WithRetry(backoffRetry(2, 50*time.Millisecond)).Build()
	require.NoError(t, err)

	start := time.Now()
	resp, err := client.Stream(&HTTPRequest{URL: server.URL})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestHTTPClient_DoBacksOffAfterNetworkError(t *testing.T) {
	var calls atomic.Int32
	server := dropFirst(t, 1, &calls)

	client, err := NewHTTPClientBuilder(zerolog.Nop()).WithRetry(backoffRetry(2, 50*time.Millisecond)).Build()
	require.NoError(t, err)

	start := time.Now()
	resp, err := client.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, "payload", string(resp.Body))
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestHTTPClient_StreamBackoffHonorsContext(t *testing.T) {
	var calls atomic.Int32
	server := dropFirst(t, 5, &calls)

	client, err := NewHTTPClientBuilder(zerolog.Nop()).WithRetry(backoffRetry(3, time.Hour)).Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = client.Stream(&HTTPRequest{URL: server.URL, Context: ctx})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryHandler_ContextCancelled(t *testing.T) {
	rh := NewRetryHandler(RetryHandlerConfig{MaxRetries: 1, BaseDelay: time.Hour, MaxDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rh.WaitForRetry(ctx, 0, http.StatusTooManyRequests, "http://example.test")
	assert.ErrorIs(t, err, context.Canceled)
}
