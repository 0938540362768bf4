package api

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

func (s *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.WithError(panicError).Errorf("panic: %v", panicError)
				errResp := NewInternalServerError("Internal server error", panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type keyLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// rateLimiter keeps one token bucket per client address. Buckets idle for
// longer than ttl are collected.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	r        rate.Limit
	burst    int
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func newRateLimiter(r rate.Limit, burst int, ttl time.Duration) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*keyLimiter),
		r:        r,
		burst:    burst,
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if kl, ok := rl.limiters[key]; ok {
		kl.seen = time.Now()
		return kl.lim
	}

	lim := rate.NewLimiter(rl.r, rl.burst)
	rl.limiters[key] = &keyLimiter{lim: lim, seen: time.Now()}
	return lim
}

func (rl *rateLimiter) allow(key string) bool {
	return rl.get(key).Allow()
}

func (rl *rateLimiter) gc(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.collect(now)
		}
	}
}

func (rl *rateLimiter) collect(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for k, v := range rl.limiters {
		if now.Sub(v.seen) > rl.ttl {
			delete(rl.limiters, k)
		}
	}
}

func (rl *rateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (s *App) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r.RemoteAddr)) {
			errResp := NewTooManyRequestsError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}

	return host
}
