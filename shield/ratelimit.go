package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// window is one client's counter for the current fixed window.
type window struct {
	used  int
	until time.Time
}

// RateLimiter caps POST requests per client in fixed windows. Only POSTs
// count: every document operation stages uploads and burns CPU, while
// reads are cheap.
type RateLimiter struct {
	limit  int
	period time.Duration
	skip   []string // path prefixes never limited
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*window
}

// NewRateLimiter allows limit POSTs per client and period (one minute when
// period is not positive). Paths under skip are never counted.
func NewRateLimiter(limit int, period time.Duration, skip ...string) *RateLimiter {
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		period:  period,
		skip:    skip,
		now:     time.Now,
		clients: make(map[string]*window),
	}
}

// Run drops finished windows once per period until done is closed.
func (rl *RateLimiter) Run(done <-chan struct{}) {
	tick := time.NewTicker(rl.period)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case <-tick.C:
			rl.gc()
		}
	}
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, w := range rl.clients {
		if !now.Before(w.until) {
			delete(rl.clients, ip)
		}
	}
}

// take counts one request for ip. It returns the requests left in the
// window and when the window ends; left < 0 means refused.
func (rl *RateLimiter) take(ip string) (left int, until time.Time) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.clients[ip]
	if !ok || !now.Before(w.until) {
		w = &window{until: now.Add(rl.period)}
		rl.clients[ip] = w
	}
	w.used++
	return rl.limit - w.used, w.until
}

// Middleware answers 429 with a JSON error and Retry-After once a client is
// over its limit.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || rl.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ip := ClientIP(r)
		left, until := rl.take(ip)
		if left >= 0 {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(left))
			next.ServeHTTP(w, r)
			return
		}

		retry := int(until.Sub(rl.now()).Round(time.Second) / time.Second)
		if retry < 1 {
			retry = 1
		}
		slog.Warn("ratelimit: refused", "ip", ip, "path", r.URL.Path, "retry_after_s", retry)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

func (rl *RateLimiter) skipped(path string) bool {
	for _, p := range rl.skip {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ClientIP is the host part of r.RemoteAddr. Proxy headers are not read
// here: the router's RealIP middleware has already folded them into
// RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
