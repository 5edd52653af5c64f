// Package retry wraps exponential backoff for the HTTP backends.
package retry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config defines the retry policy.
type Config struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultConfig retries five times from 200ms, doubling up to 5s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
	}
}

// Permanent stops retrying and returns err as is.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the retries run
// out or ctx is done.
func Do(ctx context.Context, cfg Config, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime
	b.Multiplier = 2

	var policy backoff.BackOff = b
	if cfg.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(cfg.MaxRetries))
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Retryable reports whether an HTTP status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// WaitRetryAfter honours a Retry-After header given in seconds.
func WaitRetryAfter(ctx context.Context, resp *http.Response) {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(secs) * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
