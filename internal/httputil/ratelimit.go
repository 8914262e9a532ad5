// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter paces requests per destination host. Providers and the
// reasoning backend share one so that concurrent searches do not burst a
// single API.
type HostLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter allows perMinute requests per host with a burst of one.
// A non-positive perMinute disables limiting.
func NewHostLimiter(perMinute int) *HostLimiter {
	l := &HostLimiter{limit: rate.Inf, burst: 1, limiters: make(map[string]*rate.Limiter)}
	if perMinute > 0 {
		l.limit = rate.Limit(float64(perMinute) / 60)
	}
	return l
}

// Wait blocks until a request to host is allowed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil || l.limit == rate.Inf {
		return nil
	}
	return l.limiter(host).Wait(ctx)
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	return lim
}

// Do waits for the request's host to be allowed, then runs it through
// DoWithRetry.
func (l *HostLimiter) Do(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if err := l.Wait(ctx, req.URL.Host); err != nil {
		return nil, err
	}
	return DoWithRetry(ctx, client, req, maxRetries)
}
