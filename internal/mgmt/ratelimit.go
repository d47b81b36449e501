package mgmt

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter keeps one token bucket per source address. Buckets idle past
// the eviction window are dropped so one scanner sweeping addresses cannot
// grow the map without bound.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipBucket
	rate     rate.Limit
	burst    int
	maxIdle  time.Duration
	clock    func() time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*ipBucket),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		maxIdle:  10 * time.Minute,
		clock:    time.Now,
	}
}

// Allow reports whether a request from remoteAddr may proceed.
func (l *ipLimiter) Allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	bucket, ok := l.limiters[host]
	if !ok {
		bucket = &ipBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[host] = bucket
	}
	bucket.lastSeen = now

	if len(l.limiters) > 1024 {
		l.evictIdle(now)
	}

	return bucket.limiter.Allow()
}

func (l *ipLimiter) evictIdle(now time.Time) {
	for host, bucket := range l.limiters {
		if now.Sub(bucket.lastSeen) > l.maxIdle {
			delete(l.limiters, host)
		}
	}
}
