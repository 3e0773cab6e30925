// Package transport runs outbound HTTP calls under a bounded retry policy.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"taskbridge/pkg/failure"
	"taskbridge/pkg/metrics"
)

const maxResponseBytes = 4 << 20

// Policy bounds one logical outbound call.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

var (
	// ReadPolicy is used for idempotent GETs.
	ReadPolicy = Policy{Timeout: 10 * time.Second, MaxRetries: 2, BaseDelay: 500 * time.Millisecond}
	// MutationPolicy is used for writes that must not be repeated.
	MutationPolicy = Policy{Timeout: 10 * time.Second, MaxRetries: 0, BaseDelay: 500 * time.Millisecond}
	// IdempotentMutationPolicy is used for writes the upstream deduplicates itself.
	IdempotentMutationPolicy = Policy{Timeout: 10 * time.Second, MaxRetries: 2, BaseDelay: 500 * time.Millisecond}
)

// Delay returns the wait before attempt n+1.
func (p Policy) Delay(n int) time.Duration {
	if n < 0 || p.BaseDelay <= 0 {
		return 0
	}
	return p.BaseDelay << n
}

// Request is a replayable outbound request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Error is returned once a call has exhausted its policy.
type Error struct {
	Cause      error
	Attempts   int
	StatusCode int
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("outbound call failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *Error) FailureCategory() string {
	return failure.CategoryTransport
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracing    bool
}

// Client executes requests with per-attempt timeouts and exponential backoff.
// It holds no per-call state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	log        *slog.Logger
	sleep      func(context.Context, time.Duration) error
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Tracing {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		traced := *httpClient
		traced.Transport = otelhttp.NewTransport(base)
		httpClient = &traced
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		httpClient: httpClient,
		log:        log.With("component", "transport"),
		sleep:      sleepContext,
	}
}

// Execute performs req under policy. Statuses other than 429 and 5xx are
// returned as-is on the attempt that produced them.
func (c *Client) Execute(ctx context.Context, req Request, policy Policy) (*Response, error) {
	host := hostOf(req.URL)
	attempts := 0

	for n := 0; ; n++ {
		attempts++
		resp, err := c.attempt(ctx, req, policy.Timeout)

		retryable := err != nil || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable {
			metrics.OutboundAttempts.WithLabelValues(host, outcome(resp.StatusCode)).Inc()
			return resp, nil
		}

		cause := err
		status := 0
		if err == nil {
			status = resp.StatusCode
			cause = fmt.Errorf("upstream status %d", resp.StatusCode)
		}

		if n >= policy.MaxRetries || ctx.Err() != nil {
			metrics.OutboundAttempts.WithLabelValues(host, "exhausted").Inc()
			return nil, &Error{Cause: cause, Attempts: attempts, StatusCode: status}
		}

		metrics.OutboundAttempts.WithLabelValues(host, "retry").Inc()
		delay := policy.Delay(n)
		c.log.Debug("Retrying outbound call",
			"method", req.Method,
			"host", host,
			"attempt", attempts,
			"delay", delay,
			"error", cause,
		)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, &Error{Cause: err, Attempts: attempts, StatusCode: status}
		}
	}
}

func (c *Client) attempt(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       payload,
	}, nil
}

// IsTransport reports whether err came from an exhausted outbound call.
func IsTransport(err error) bool {
	var transportErr *Error
	return errors.As(err, &transportErr)
}

func outcome(status int) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return "returned"
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Host
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
