package client

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Backoff blocks until the next attempt may start. It returns ctx.Err()
// when the context is done first.
type Backoff func(ctx context.Context) error

// ExponentialBackoff waits initial before the first retry and multiplies the
// wait by factor after each one.
func ExponentialBackoff(initial time.Duration, factor float64) Backoff {
	interval := initial
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * factor)
			return nil
		}
	}
}

// RetryPolicy decides which requests are retried and how often.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	Backoff  time.Duration
	Factor   float64
	Statuses []int
	// Methods lists the HTTP methods that may be retried.
	Methods []string
}

// DefaultRetryPolicy retries GET requests three times in total on
// 403, 429 and 5xx gateway statuses.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Backoff:  500 * time.Millisecond,
		Factor:   2,
		Statuses: []int{
			http.StatusForbidden,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		Methods: []string{http.MethodGet},
	}
}

func (p RetryPolicy) retriesMethod(method string) bool {
	return slices.ContainsFunc(p.Methods, func(m string) bool {
		return strings.EqualFold(m, method)
	})
}

func (p RetryPolicy) retriesStatus(code int) bool {
	return slices.Contains(p.Statuses, code)
}

func (p RetryPolicy) newBackoff() Backoff {
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}
	return ExponentialBackoff(p.Backoff, factor)
}
