package remote

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// deviceLimiter throttles live impact queries per device so repeated
// refreshes cannot pile load onto a production load balancer.
type deviceLimiter struct {
	mu       sync.Mutex
	limiters map[int]*rate.Limiter
	r        rate.Limit
	b        int
}

func newDeviceLimiter(r float64, burst int) *deviceLimiter {
	return &deviceLimiter{
		limiters: make(map[int]*rate.Limiter),
		r:        rate.Limit(r),
		b:        burst,
	}
}

func (l *deviceLimiter) limiterFor(deviceID int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[deviceID]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[deviceID] = lim
	}
	return lim
}

// Wait blocks until the device's bucket has a token or ctx is done.
func (l *deviceLimiter) Wait(ctx context.Context, deviceID int) error {
	return l.limiterFor(deviceID).Wait(ctx)
}
