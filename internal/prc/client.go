package prc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultRetryAfter = 2 * time.Second

// Observer receives per-call telemetry.
type Observer interface {
	ObserveUpstream(endpoint, outcome string, duration time.Duration)
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Client calls the game-server API. Every call for one API key is
// serialized in arrival order and paced by that key's bucket.
type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	http       *http.Client
	limiters   *Limiters
	logger     *slog.Logger
	observer   Observer
}

// NewClient builds a client backed by the shared limiter registry.
func NewClient(cfg Config, limiters *Limiters, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		http:       &http.Client{},
		limiters:   limiters,
		logger:     logger,
	}
}

// WithObserver attaches telemetry and returns the client.
func (c *Client) WithObserver(o Observer) *Client {
	c.observer = o
	return c
}

// Server fetches the server snapshot.
func (c *Client) Server(ctx context.Context, apiKey string) (*ServerStatus, error) {
	var out ServerStatus
	if err := c.do(ctx, apiKey, http.MethodGet, "/server", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Players fetches the online roster.
func (c *Client) Players(ctx context.Context, apiKey string) ([]Player, error) {
	var out []Player
	err := c.do(ctx, apiKey, http.MethodGet, "/server/players", nil, &out)
	return out, err
}

// JoinLogs fetches recent join/leave events.
func (c *Client) JoinLogs(ctx context.Context, apiKey string) ([]JoinLog, error) {
	var out []JoinLog
	err := c.do(ctx, apiKey, http.MethodGet, "/server/joinlogs", nil, &out)
	return out, err
}

// KillLogs fetches recent kill events.
func (c *Client) KillLogs(ctx context.Context, apiKey string) ([]KillLog, error) {
	var out []KillLog
	err := c.do(ctx, apiKey, http.MethodGet, "/server/killlogs", nil, &out)
	return out, err
}

// CommandLogs fetches recent command invocations.
func (c *Client) CommandLogs(ctx context.Context, apiKey string) ([]CommandLog, error) {
	var out []CommandLog
	err := c.do(ctx, apiKey, http.MethodGet, "/server/commandlogs", nil, &out)
	return out, err
}

// ExecuteCommand runs a server command such as ":pm Name text".
func (c *Client) ExecuteCommand(ctx context.Context, apiKey, command string) error {
	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return c.do(ctx, apiKey, http.MethodPost, "/server/command", body, nil)
}

func (c *Client) do(ctx context.Context, apiKey, method, endpoint string, body []byte, out any) error {
	keyHash := KeyHash(apiKey)

	release, err := c.limiters.Acquire(ctx, keyHash)
	if err != nil {
		return err
	}
	defer release()

	bucket := c.limiters.Bucket(keyHash)

	err = Retry(ctx, RateLimitPolicy(c.maxRetries), func() error {
		if err := bucket.Wait(ctx); err != nil {
			return err
		}
		return c.attempt(ctx, bucket, apiKey, method, endpoint, body, out)
	})

	if IsRetryable(err) {
		c.logger.Warn("upstream rate limit exceeded", "key_hash", keyHash, "endpoint", endpoint)
		return fmt.Errorf("%s: %w", endpoint, ErrRateLimitExceeded)
	}
	return err
}

func (c *Client) attempt(ctx context.Context, bucket *Bucket, apiKey, method, endpoint string, body []byte, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Server-Key", apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, "error", start)
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%s: %w", endpoint, ErrTimeout)
		}
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if remaining, err := strconv.Atoi(v); err == nil {
			bucket.Observe(remaining)
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.observe(endpoint, "rate_limited", start)
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		bucket.Block(wait)
		return &RetryableError{Err: fmt.Errorf("%s: 429 too many requests", endpoint), RetryAfter: wait}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(endpoint, "error", start)
		return fmt.Errorf("%s: read body: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe(endpoint, "error", start)
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	c.observe(endpoint, "ok", start)

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) observe(endpoint, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveUpstream(endpoint, outcome, time.Since(start))
	}
}

// parseRetryAfter reads a seconds value, falling back to two seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs * float64(time.Second))
}
