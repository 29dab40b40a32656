// Package fetch wraps outbound HTTP requests with retry, backoff, and
// rate-limit admission so the pipeline stays polite toward external
// services under throttling and transient failure.
package fetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/crakt/gymmap/internal/ratelimit"
	"github.com/crakt/gymmap/pkg/errors"
	"github.com/crakt/gymmap/pkg/logging"
)

// DefaultUserAgent identifies gymmap to upstream services.
const DefaultUserAgent = "gymmap/0.2 (+https://github.com/crakt/gymmap)"

// maxErrorBodyBytes bounds how much of an error response is kept for the
// error message.
const maxErrorBodyBytes = 2048

// Client executes one logical request with up to MaxRetries retry attempts.
// Retries cover 429, 408, 500, 502, 503, and 504 responses plus any
// transport-level failure; other statuses surface immediately. A
// server-supplied Retry-After duration is honored exactly; otherwise the
// backoff is min(cap, 2^attempt) seconds plus up to one second of jitter.
type Client struct {
	http       *http.Client
	service    string
	maxRetries int
	backoffCap time.Duration
	limiter    *ratelimit.Limiter
	userAgent  string

	// sleep is swappable so tests don't wait out real backoffs.
	sleep func(context.Context, time.Duration) error
	// jitter returns a uniform random value in [0,1).
	jitter func() float64
}

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries sets the retry budget. Zero means a single attempt.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoffCap caps the exponential backoff sleep.
func WithBackoffCap(d time.Duration) Option {
	return func(c *Client) { c.backoffCap = d }
}

// WithLimiter attaches a rate limiter; every attempt consumes one token.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a fetcher for one external service.
func New(service string, opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 60 * time.Second},
		service:    service,
		maxRetries: 3,
		backoffCap: 30 * time.Second,
		userAgent:  DefaultUserAgent,
		sleep:      sleepCtx,
		jitter:     rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes req, retrying per policy. The caller owns the response body
// on success. On exhaustion the last error is returned, never swallowed.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apiErr *errors.APIError
		retryable := true
		var retryAfter time.Duration
		if stderrors.As(err, &apiErr) {
			retryable = apiErr.Retryable()
			retryAfter = apiErr.RetryAfter
		}
		if !retryable {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}

		wait := c.backoff(attempt+1, retryAfter)
		logging.Ctx(ctx).Warn().
			Str("service", c.service).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Dur("backoff", wait).
			Err(err).
			Msg("Transient fetch failure, backing off")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%s: %w: %w", c.service, errors.ErrRetriesExhausted, lastErr)
}

// attempt issues one HTTP round trip and classifies the response.
func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.WrapIO("rewind", req.URL.String(), err)
		}
		r.Body = body
	}

	resp, err := c.http.Do(r)
	if err != nil {
		// Transport failure: connection reset, timeout, DNS.
		return nil, &errors.APIError{
			Service:    c.service,
			Message:    err.Error(),
			Endpoint:   req.URL.String(),
			StatusCode: 0,
			Err:        err,
		}
	}

	if resp.StatusCode < 400 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_ = resp.Body.Close()

	return nil, &errors.APIError{
		Service:    c.service,
		StatusCode: resp.StatusCode,
		Message:    string(body),
		Endpoint:   req.URL.String(),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// backoff computes the sleep before retry number attempt (1-based). A
// server cool-down hint wins outright.
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	base := math.Exp2(float64(attempt))
	capSec := c.backoffCap.Seconds()
	if base > capSec {
		base = capSec
	}
	return time.Duration((base + c.jitter()) * float64(time.Second))
}

// Get issues a GET request through the retry policy.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	applyHeader(req, header)
	return c.Do(ctx, req)
}

func applyHeader(req *http.Request, header http.Header) {
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

// parseRetryAfter handles the delay-seconds form of the header. The
// HTTP-date form is rare on the services we talk to and is ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
