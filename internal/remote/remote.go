// Package remote sends periodic heartbeats to an upstream service. Every call
// goes through a circuit breaker so a failing upstream is not hammered.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/warden/internal/breaker"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/stats"
)

// BreakerName labels the heartbeat breaker in logs and metrics.
const BreakerName = "remote"

const DefaultTimeout = 10 * time.Second

// ErrNoURL is returned when the client has no endpoint configured.
var ErrNoURL = errors.New("remote url is not configured")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.Code)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Body)
}

// Heartbeat is the JSON body posted to the upstream.
type Heartbeat struct {
	Host   string              `json:"host"`
	PID    int                 `json:"pid"`
	SentAt time.Time           `json:"sent_at"`
	Stats  *stats.ProcessStats `json:"stats,omitempty"`
}

// Config holds client configuration.
type Config struct {
	URL     string
	Timeout time.Duration
	Breaker breaker.Config
	Logger  *slog.Logger // optional
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client posts heartbeats through a breaker.
type Client struct {
	url     string
	client  *http.Client
	breaker *breaker.Breaker
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	bc := cfg.Breaker
	if bc.Name == "" {
		bc.Name = BreakerName
	}
	next := bc.OnStateChange
	bc.OnStateChange = func(name string, from, to breaker.State) {
		metrics.RecordBreakerTransition(name, from.String(), to.String())
		if next != nil {
			next(name, from, to)
		}
	}
	b := breaker.New(bc, cfg.Logger)
	metrics.SetBreakerState(bc.Name, b.State().String())

	return &Client{
		url:     cfg.URL,
		client:  hc,
		breaker: b,
		logger:  cfg.Logger.With("component", "remote"),
	}
}

// Enabled reports whether a URL is configured.
func (c *Client) Enabled() bool { return c.url != "" }

// Breaker exposes the breaker for status reporting.
func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// Send posts hb. While the breaker is open the request is not attempted and
// an error matching breaker.ErrOpen is returned.
func (c *Client) Send(ctx context.Context, hb Heartbeat) error {
	if c.url == "" {
		return ErrNoURL
	}
	name := c.breaker.Name()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, hb)
	}, nil)
	switch {
	case err == nil:
		metrics.IncBreakerCall(name, "success")
		metrics.IncHeartbeat("success")
	case errors.Is(err, breaker.ErrOpen):
		metrics.IncBreakerCall(name, "rejected")
		metrics.IncHeartbeat("rejected")
		c.logger.Debug("heartbeat skipped", "error", err)
	default:
		metrics.IncBreakerCall(name, "failure")
		metrics.IncHeartbeat("failure")
		c.logger.Warn("heartbeat failed", "url", c.url, "error", err)
	}
	return err
}

func (c *Client) post(ctx context.Context, hb Heartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
