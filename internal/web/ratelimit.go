package web

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateLimiter counts requests per client IP in fixed windows.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type window struct {
	start time.Time
	used  int
}

func newRateLimiter(limit int, period time.Duration) *rateLimiter {
	rl := &rateLimiter{
		clients: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// sweep drops clients idle for two periods until stop is called.
func (rl *rateLimiter) sweep() {
	ticker := time.NewTicker(rl.period)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			cutoff := rl.now().Add(-2 * rl.period)
			rl.mu.Lock()
			for ip, w := range rl.clients {
				if w.start.Before(cutoff) {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// allow records one request from ip and reports whether it is within limit.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[ip]
	if !ok || now.Sub(w.start) > rl.period {
		w = &window{start: now}
		rl.clients[ip] = w
	}
	if w.used >= rl.limit {
		return false
	}
	w.used++
	return true
}

// middleware answers 429 with Retry-After once a client exceeds the limit.
// RemoteAddr has already been rewritten by TrustedRealIP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(rl.period.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !rl.allow(ip) {
			w.Header().Set("Retry-After", retryAfter)
			respondErrorJSON(w, rateLimitMessage, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
