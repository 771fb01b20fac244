package kube

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// noSleep records requested backoffs without waiting.
type noSleep struct {
	calls []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.calls = append(n.calls, d)

	return ctx.Err()
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *noSleep) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), testLogger(t), "kubewatch-test")
	ns := &noSleep{}
	c.sleepFunc = ns.sleep

	return c, ns
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("https://example.test:6443/", nil, nil, "")

	assert.Equal(t, "https://example.test:6443", c.baseURL)
	assert.Equal(t, http.DefaultClient, c.httpClient)
	assert.Equal(t, DefaultUserAgent, c.userAgent)
	assert.NotNil(t, c.logger)
}

func TestGet_SendsHeadersAndQuery(t *testing.T) {
	var seen *http.Request

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		_, _ = io.WriteString(w, "{}")
	}))

	resp, err := c.Get(context.Background(), "/api/v1/pods", url.Values{"limit": {"5"}})
	require.NoError(t, err)
	resp.Body.Close()

	require.NotNil(t, seen)
	assert.Equal(t, "/api/v1/pods", seen.URL.Path)
	assert.Equal(t, "5", seen.URL.Query().Get("limit"))
	assert.Equal(t, "application/json", seen.Header.Get("Accept"))
	assert.Equal(t, "kubewatch-test", seen.Header.Get("User-Agent"))
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	c, ns := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = io.WriteString(w, "{}")
	}))

	resp, err := c.Get(context.Background(), "/api/v1", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, ns.calls, 2)
}

func TestGet_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	c, ns := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		_, _ = io.WriteString(w, "{}")
	}))

	resp, err := c.Get(context.Background(), "/api/v1", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, ns.calls, 1)
	assert.Equal(t, 7*time.Second, ns.calls[0])
}

func TestGet_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.Get(context.Background(), "/api/v1", nil)
	require.ErrorIs(t, err, ErrServerError)
	assert.EqualValues(t, maxRetries+1, calls.Load())
}

func TestGet_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"kind":"Status","status":"Failure","reason":"NotFound","message":"widgets not found","code":404}`)
	}))

	_, err := c.Get(context.Background(), "/apis/example.com/v1/widgets", nil)
	require.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "widgets not found", apiErr.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGet_CanceledContext(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "{}")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "/api/v1", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStream_ReturnsOpenBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("watch"))
		_, _ = io.WriteString(w, "line\n")
	}))

	resp, err := c.Stream(context.Background(), "/api/v1/pods", url.Values{"watch": {"true"}})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(body))
}

func TestStream_DoesNotRetry(t *testing.T) {
	var calls atomic.Int32

	c, ns := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Stream(context.Background(), "/api/v1/pods", nil)
	require.ErrorIs(t, err, ErrServerError)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, ns.calls)
}

func TestStream_GoneIsClassified(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		_, _ = io.WriteString(w, `{"kind":"Status","status":"Failure","reason":"Expired","message":"too old resource version","code":410}`)
	}))

	_, err := c.Stream(context.Background(), "/api/v1/pods", nil)
	require.ErrorIs(t, err, ErrGone)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, apiErr.Status)
	assert.Equal(t, "Expired", string(apiErr.Status.Reason))
}

func TestStream_TransportErrorIsNotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(srv.URL, srv.Client(), testLogger(t), "")

	_, err := c.Stream(context.Background(), "/api/v1/pods", nil)
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestCalcBackoff_Bounds(t *testing.T) {
	c := NewClient("http://example.test", nil, nil, "")

	for attempt := range 10 {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestTimeSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := timeSleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}
