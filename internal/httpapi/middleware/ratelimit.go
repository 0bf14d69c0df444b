package middleware

import (
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

type visitor struct {
	lim  *rate.Limiter
	seen atomic.Int64 // unix nanos
}

// limiter keeps one token bucket per client key. Idle keys are swept after
// ttl so the map does not grow without bound.
type limiter struct {
	rps       rate.Limit
	burst     int
	ttl       time.Duration
	visitors  *xsync.Map[string, *visitor]
	lastSweep atomic.Int64
	now       func() time.Time
}

func newLimiter(rps rate.Limit, burst int, ttl time.Duration) *limiter {
	l := &limiter{
		rps:      rps,
		burst:    burst,
		ttl:      ttl,
		visitors: xsync.NewMap[string, *visitor](),
		now:      time.Now,
	}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

func (l *limiter) allow(key string) bool {
	now := l.now()
	v, _ := l.visitors.LoadOrCompute(key, func() (*visitor, bool) {
		return &visitor{lim: rate.NewLimiter(l.rps, l.burst)}, false
	})
	v.seen.Store(now.UnixNano())
	l.maybeSweep(now)
	return v.lim.AllowN(now, 1)
}

func (l *limiter) maybeSweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(l.ttl) || !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-l.ttl).UnixNano()
	l.visitors.Range(func(k string, v *visitor) bool {
		if v.seen.Load() < cutoff {
			l.visitors.Delete(k)
		}
		return true
	})
}

func (l *limiter) size() int { return l.visitors.Size() }

// RateLimit returns a middleware that rate-limits by remote IP.
// Example: RateLimit(120, 60) => 120 req/min with burst 60
func RateLimit(reqPerMin int, burst int) func(http.Handler) http.Handler {
	if reqPerMin <= 0 {
		// disabled
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	l := newLimiter(rate.Limit(float64(reqPerMin)/60.0), burst, 10*time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if !l.allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys visitors by the connection's address. Forwarding headers are
// only honored when chi's RealIP middleware has already rewritten RemoteAddr
// for a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
