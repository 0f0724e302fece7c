// Package ratelimit provides token-bucket rate limiting middleware for the
// TipTap API.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per key
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often idle keys are dropped
	CleanupInterval time.Duration
}

// DefaultConfig returns the general API limit.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// CredentialConfig is the tighter limit for routes that accept a PIN.
func CredentialConfig() Config {
	return Config{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	}
}

// KeyFunc picks the bucket for a request.
type KeyFunc func(c *gin.Context) string

// ClientKey buckets by client IP.
func ClientKey(c *gin.Context) string { return c.ClientIP() }

// Limiter tracks token buckets by key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*clientState
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a rate limiter and starts its cleanup goroutine.
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// WithClock overrides the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * time.Minute)
	for key, state := range l.clients {
		if state.lastCheck.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow reports whether a request for key fits in its bucket, consuming a
// token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, exists := l.clients[key]
	if !exists {
		l.clients[key] = &clientState{
			tokens:    float64(l.cfg.BurstSize - 1),
			lastCheck: now,
		}
		return l.cfg.BurstSize > 0
	}

	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens += elapsed * float64(l.cfg.RequestsPerMinute) / 60.0
	if state.tokens > float64(l.cfg.BurstSize) {
		state.tokens = float64(l.cfg.BurstSize)
	}
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true
	}
	return false
}

// Middleware rate limits by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return l.MiddlewareFunc(ClientKey)
}

// MiddlewareFunc rate limits using key to pick the bucket.
func (l *Limiter) MiddlewareFunc(key KeyFunc) gin.HandlerFunc {
	retryAfter := 1
	if l.cfg.RequestsPerMinute > 0 && l.cfg.RequestsPerMinute < 60 {
		retryAfter = 60 / l.cfg.RequestsPerMinute
	}
	return func(c *gin.Context) {
		if !l.Allow(key(c)) {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}
