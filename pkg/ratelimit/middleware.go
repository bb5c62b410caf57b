package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"telenotify/pkg/metrics"
)

type Limiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// Middleware limits requests per client IP. Idle limiters are dropped after MaxAge.
type Middleware struct {
	config   RateLimitConfig
	mu       sync.RWMutex
	limiters map[string]*Limiter
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func New(config RateLimitConfig) *Middleware {
	m := &Middleware{
		config:   config,
		limiters: make(map[string]*Limiter),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go m.cleanupLoop()
	}
	return m
}

func (m *Middleware) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Middleware) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Middleware) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for ip, limiter := range m.limiters {
		limiter.mu.Lock()
		lastSeen := limiter.lastSeen
		limiter.mu.Unlock()
		if now.Sub(lastSeen) > m.config.MaxAge {
			delete(m.limiters, ip)
		}
	}
}

func (m *Middleware) limiterFor(clientIP string) *Limiter {
	m.mu.RLock()
	limiter, exists := m.limiters[clientIP]
	m.mu.RUnlock()
	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	limiter, exists = m.limiters[clientIP]
	if !exists {
		limiter = &Limiter{limiter: rate.NewLimiter(rate.Limit(m.config.RPS), m.config.Burst)}
		m.limiters[clientIP] = limiter
	}
	return limiter
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := m.limiterFor(clientIP(r))

		limiter.mu.Lock()
		limiter.lastSeen = m.now()
		limiter.mu.Unlock()

		w.Header().Set("X-RateLimit-Limit", formatRate(m.config.RPS))

		if !limiter.limiter.Allow() {
			metrics.IncRateLimit("limited")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.IncRateLimit("allowed")
		remaining := int(limiter.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func formatRate(rps float64) string {
	return strconv.Itoa(int(rps))
}
