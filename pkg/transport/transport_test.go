package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportSetsHeaders(t *testing.T) {
	var gotKey, gotAccept atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("api-key"))
		gotAccept.Store(r.Header.Get("Accept"))
	}))
	defer ts.Close()

	tr := New(WithBase(ts.Client().Transport), WithHeader("api-key", "secret"), WithHeader("Accept", "application/json"), WithHeader("X-Empty", ""))
	client := tr.Client(time.Second)

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/csv")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "secret", gotKey.Load())
	assert.Equal(t, "text/csv", gotAccept.Load(), "request headers win")
	assert.Empty(t, req.Header.Get("api-key"), "caller request untouched")
	assert.NotContains(t, tr.Header, "X-Empty")
}

func TestTransportRateLimit(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	client := New(WithBase(ts.Client().Transport), WithRateLimit(20, 1)).Client(time.Second)
	start := time.Now()
	for range 3 {
		resp, err := client.Get(ts.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, int32(3), hits.Load())
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestTransportRateLimitHonoursContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	client := New(WithBase(ts.Client().Transport), WithRateLimit(0.001, 1)).Client(0)
	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	_, err = client.Do(req)
	assert.Error(t, err)
}

func TestWithRateLimitDisabled(t *testing.T) {
	tr := New(WithRateLimit(0, 5))
	assert.Nil(t, tr.limiter)
}
