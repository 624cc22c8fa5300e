package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cognicore/larder/pkg/larder/internalerr"
)

const (
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRatePerHost is the default request rate per host (requests per second).
	DefaultRatePerHost = 1.0

	// DefaultMaxBodySize caps how much of a response body is read.
	DefaultMaxBodySize = 10 << 20

	DefaultUserAgent = "larder/1.0 (+recipe ingest)"
)

// HTTP fetches documents over HTTP with per-host rate limiting and retry of
// transient failures.
type HTTP struct {
	client         *http.Client
	userAgent      string
	perHost        rate.Limit
	burst          int
	retries        uint64
	initialBackoff time.Duration
	maxBody        int64
	logger         *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// HTTPOption configures HTTP.
type HTTPOption func(*HTTP)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTP) { h.userAgent = ua }
}

// WithRatePerHost limits requests per second to any single host. A rate of
// zero or less disables the limit.
func WithRatePerHost(rps float64, burst int) HTTPOption {
	return func(h *HTTP) {
		if rps <= 0 {
			h.perHost = rate.Inf
		} else {
			h.perHost = rate.Limit(rps)
		}
		if burst > 0 {
			h.burst = burst
		}
	}
}

// WithRetries sets how often a transient failure is retried and the first
// backoff interval.
func WithRetries(n int, initial time.Duration) HTTPOption {
	return func(h *HTTP) {
		if n >= 0 {
			h.retries = uint64(n)
		}
		if initial > 0 {
			h.initialBackoff = initial
		}
	}
}

// WithMaxBodySize caps the response body size.
func WithMaxBodySize(n int64) HTTPOption {
	return func(h *HTTP) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(h *HTTP) { h.logger = l }
}

// NewHTTP creates an HTTP fetcher.
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client:         &http.Client{Timeout: DefaultTimeout},
		userAgent:      DefaultUserAgent,
		perHost:        rate.Limit(DefaultRatePerHost),
		burst:          1,
		retries:        3,
		initialBackoff: 500 * time.Millisecond,
		maxBody:        DefaultMaxBodySize,
		logger:         zap.NewNop(),
		limiters:       make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fetch implements Fetcher.
func (h *HTTP) Fetch(ctx context.Context, ref string) (Document, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Document{}, fmt.Errorf("fetch %q: not an http url: %w", ref, internalerr.ErrInvalidInput)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, h.retries), ctx)

	var doc Document
	err = backoff.RetryNotify(func() error {
		if err := h.limiter(u.Host).Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		d, err := h.get(ctx, u.String())
		if err != nil {
			if internalerr.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		doc = d
		return nil
	}, policy, func(err error, wait time.Duration) {
		h.logger.Debug("retrying fetch",
			zap.String("url", u.String()),
			zap.Error(err),
			zap.Duration("backoff", wait))
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (h *HTTP) get(ctx context.Context, ref string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build request %s: %w: %w", ref, internalerr.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Document{}, ctxErr
		}
		return Document{}, fmt.Errorf("get %s: %w: %w", ref, internalerr.ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound || code == http.StatusGone:
		return Document{}, fmt.Errorf("get %s: status %d: %w", ref, code, internalerr.ErrNotFound)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return Document{}, fmt.Errorf("get %s: status %d: %w", ref, code, internalerr.ErrTransientFetch)
	case code < 200 || code >= 300:
		return Document{}, fmt.Errorf("get %s: status %d: %w", ref, code, internalerr.ErrFetch)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("read %s: %w: %w", ref, internalerr.ErrTransientFetch, err)
	}
	if int64(len(body)) > h.maxBody {
		return Document{}, fmt.Errorf("read %s: body exceeds %d bytes: %w", ref, h.maxBody, internalerr.ErrFetch)
	}

	return Document{
		Ref:       ref,
		Body:      body,
		Kind:      kindFromContentType(resp.Header.Get("Content-Type"), ref),
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (h *HTTP) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.perHost, h.burst)
		h.limiters[host] = l
	}
	return l
}
