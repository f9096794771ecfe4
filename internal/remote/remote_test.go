package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/warden/internal/breaker"
	"github.com/loykin/warden/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSendPostsJSON(t *testing.T) {
	var got Heartbeat
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Logger: quietLogger()})
	require.True(t, c.Enabled())
	hb := Heartbeat{Host: "h", PID: 12, SentAt: time.Unix(10, 0).UTC(), Stats: &stats.ProcessStats{PID: 12, MemoryMB: 3}}
	require.NoError(t, c.Send(context.Background(), hb))
	assert.Equal(t, 12, got.PID)
	assert.Equal(t, "h", got.Host)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 3.0, got.Stats.MemoryMB)
}

func TestSendNoURL(t *testing.T) {
	c := New(Config{Logger: quietLogger()})
	assert.False(t, c.Enabled())
	assert.ErrorIs(t, c.Send(context.Background(), Heartbeat{}), ErrNoURL)
}

func TestSendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Logger: quietLogger()})
	err := c.Send(context.Background(), Heartbeat{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Contains(t, se.Error(), "down for maintenance")
	assert.Equal(t, 1, c.Breaker().FailureCount())
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	var mu sync.Mutex
	var seen []string
	c := New(Config{
		URL:    srv.URL,
		Logger: quietLogger(),
		Breaker: breaker.Config{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          5 * time.Second,
			WindowSize:       time.Minute,
			Clock:            clk,
			OnStateChange: func(_ string, from, to breaker.State) {
				mu.Lock()
				seen = append(seen, from.String()+"->"+to.String())
				mu.Unlock()
			},
		},
	})
	ctx := context.Background()

	require.Error(t, c.Send(ctx, Heartbeat{}))
	require.Error(t, c.Send(ctx, Heartbeat{}))
	assert.Equal(t, breaker.StateOpen, c.Breaker().State())

	err := c.Send(ctx, Heartbeat{})
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the server")

	healthy.Store(true)
	clk.Advance(5 * time.Second)
	require.NoError(t, c.Send(ctx, Heartbeat{}))
	assert.Equal(t, breaker.StateClosed, c.Breaker().State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, seen)
}

func TestDefaults(t *testing.T) {
	c := New(Config{URL: "http://127.0.0.1:1"})
	assert.Equal(t, BreakerName, c.Breaker().Name())
	assert.Equal(t, DefaultTimeout, c.client.Timeout)
}
