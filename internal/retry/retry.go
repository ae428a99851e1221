// Package retry provides the bounded retry combinator applied to every
// source fetch, plus the shared HTTP client tuning.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Policy controls how Do re-runs a failing call.
type Policy struct {
	// MaxAttempts is the total number of tries, first call included.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration

	// AttemptTimeout, when positive, bounds each individual attempt with
	// its own child context. A timed-out attempt counts as one failed
	// try; it never cancels the caller's context.
	AttemptTimeout time.Duration
}

// Do runs fn under the policy and returns the last error once attempts are
// exhausted. The parent ctx is honored both inside attempts (through the
// child context) and while waiting out the backoff.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Backoff > 0 {
			select {
			case <-time.After(p.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		// A canceled parent is not worth retrying.
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = errors.New("retry: exhausted")
	}
	return lastErr
}

// NewHTTPClient returns an HTTP client shared by the adapters, with
// connection pooling tuned for many small upstream fetches.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}
