package modelclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
)

// StatusError is returned when a backend answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model API returned status %d: %s", e.StatusCode, e.Body)
}

// Option configures a backend client.
type Option func(*transport)

// WithHTTPClient replaces the default client (120s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(t *transport) { t.httpClient = c }
}

// WithMaxRetries bounds retries of transient failures (network, 429, 5xx).
func WithMaxRetries(n uint64) Option {
	return func(t *transport) { t.maxRetries = n }
}

// WithBackOff sets the retry schedule factory.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(t *transport) { t.newBackOff = f }
}

type transport struct {
	httpClient *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func newTransport(opts []Option) *transport {
	t := &transport{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		maxRetries: 2,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// postJSON sends in as JSON and decodes a 200 response into out.
func (t *transport) postJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	payload, err := sonic.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("model API request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		if err := sonic.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), t.maxRetries), ctx)
	return backoff.Retry(op, b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
