// Package ratelimit throttles mutating requests per client IP with a
// fixed one-minute window.
package ratelimit

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Entries idle this long are dropped by the sweep goroutine.
const staleAfter = 10 * time.Minute

// Config holds rate limiter settings.
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter counts requests per client in one-minute windows. A fresh
// window clears the count, so a throttled client recovers on the next
// window instead of staying locked out while it retries.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    int
	quit     chan struct{}
	stopOnce sync.Once
	rejected int64
}

type bucket struct {
	windowStart time.Time
	count       int
}

func NewLimiter(config Config) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config = DefaultConfig()
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	l := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   config.RequestsPerMinute,
		quit:    make(chan struct{}),
	}
	go l.sweepLoop(config.CleanupInterval)
	return l
}

// Allow records a request for clientIP and reports whether it fits the
// current window.
func (l *Limiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[clientIP]
	if !ok {
		l.buckets[clientIP] = &bucket{windowStart: now, count: 1}
		return true
	}

	if now.Sub(b.windowStart) >= time.Minute {
		b.windowStart = now
		b.count = 1
		return true
	}

	b.count++
	if b.count > l.limit {
		atomic.AddInt64(&l.rejected, 1)
		return false
	}
	return true
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.quit:
			return
		}
	}
}

// sweep drops buckets whose window has not moved in staleAfter. Active
// clients open a new window at least once a minute, so only idle ones age.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	for ip, b := range l.buckets {
		if b.windowStart.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// Stop ends the sweep goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

// Metrics is a snapshot of limiter counters for the metrics endpoint.
type Metrics struct {
	Rejected    int64
	ClientCount int64
}

func (l *Limiter) GetMetrics() Metrics {
	l.mu.Lock()
	clients := int64(len(l.buckets))
	l.mu.Unlock()

	return Metrics{
		Rejected:    atomic.LoadInt64(&l.rejected),
		ClientCount: clients,
	}
}

// Middleware throttles POST, PUT, PATCH and DELETE requests per client
// IP. Reads pass through unthrottled.
func (l *Limiter) Middleware(extractIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
				clientIP := r.RemoteAddr
				if extractIP != nil {
					clientIP = extractIP(r)
				}
				if !l.Allow(clientIP) {
					w.Header().Set("Retry-After", "60")
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
