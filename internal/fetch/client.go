// Package fetch downloads published spreadsheet tabs as CSV text.
//
// Requests are rate limited and retried with exponential backoff on network
// errors, 429 and 5xx responses. Other 4xx responses, and HTML pages served
// in place of CSV (an unpublished or private sheet), fail immediately.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/qadash/internal/sheet"
)

// ErrNotPublished is returned when the export URL serves an HTML page.
var ErrNotPublished = errors.New("sheet is not published as CSV")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config controls timeouts, retries and throttling.
type Config struct {
	Timeout        time.Duration // per attempt
	MaxRetries     uint64        // retries after the first attempt
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RatePerSecond  float64 // request rate across all sources; <= 0 disables throttling
	Burst          int
	MaxBytes       int64 // largest accepted payload; <= 0 means unlimited
	UserAgent      string
}

// DefaultConfig returns settings suitable for Google Sheets exports.
func DefaultConfig() Config {
	return Config{
		Timeout:        20 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		RatePerSecond:  2,
		Burst:          4,
		MaxBytes:       20 << 20,
		UserAgent:      "qadash/1.0",
	}
}

// Client fetches CSV exports.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

// Fetch downloads url and returns the sanitized CSV text.
func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	var text string

	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		body, err := c.get(ctx, url)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Retryable() {
				return backoff.Permanent(err)
			}
			if errors.Is(err, ErrNotPublished) || errors.Is(err, sheet.ErrTooLarge) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		text = body
		return nil
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("sheet fetch failed, retrying",
			"url", url,
			"error", err,
			"retry_in", wait,
		)
	}

	if err := backoff.RetryNotify(op, c.backOff(ctx), notify); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxRetries), ctx)
}

// get performs one attempt.
func (c *Client) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.1")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return "", fmt.Errorf("fetch %s: %w", url, ErrNotPublished)
	}

	text, err := sheet.ReadText(resp.Body, c.cfg.MaxBytes)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}

	if looksLikeHTML(text) {
		return "", fmt.Errorf("fetch %s: %w", url, ErrNotPublished)
	}

	return text, nil
}

// looksLikeHTML catches HTML served with a misleading content type.
func looksLikeHTML(text string) bool {
	head := []byte(strings.TrimSpace(text))
	if len(head) > 64 {
		head = head[:64]
	}
	head = bytes.ToLower(head)
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
