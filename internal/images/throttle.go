package images

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostThrottle spaces downloads to the same host by at least interval. It is
// shared by every image worker of a run.
type HostThrottle struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostThrottle returns a throttle allowing one request per interval per
// host. A non-positive interval disables throttling.
func NewHostThrottle(interval time.Duration) *HostThrottle {
	return &HostThrottle{interval: interval, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until a request to host is permitted.
func (t *HostThrottle) Wait(ctx context.Context, host string) error {
	if t == nil || t.interval <= 0 || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	t.mu.Lock()
	limiter, ok := t.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[host] = limiter
	}
	t.mu.Unlock()

	return limiter.Wait(ctx)
}
