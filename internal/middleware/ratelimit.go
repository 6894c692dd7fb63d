package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateClass selects which budget a route draws from.
type RateClass string

const (
	// ClassEvaluate is the decision endpoint called by authentication frontends on
	// every sign-in, so it gets a much larger budget than policy management.
	ClassEvaluate RateClass = "evaluate"
	ClassManage   RateClass = "manage"
)

// Limit is a token bucket refilled at PerSec up to Burst.
type Limit struct {
	PerSec float64
	Burst  int
}

// RateLimitConfig holds the per-caller budgets.
type RateLimitConfig struct {
	Evaluate Limit
	Manage   Limit
	// Anonymous applies per client IP when no principal is attached.
	Anonymous Limit
	// IdleTTL drops buckets not used for this long.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns the limits used when none are configured.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Evaluate:  Limit{PerSec: 500, Burst: 1000},
		Manage:    Limit{PerSec: 50, Burst: 100},
		Anonymous: Limit{PerSec: 10, Burst: 20},
		IdleTTL:   10 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one bucket per caller and class.
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*bucket
	stopCh  chan struct{}
	stop    sync.Once
}

// NewRateLimiter creates a limiter and starts its idle-bucket janitor.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(rl.config.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if now.Sub(b.lastSeen) > rl.config.IdleTTL {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop ends the janitor. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stop.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) bucketFor(key string, l Limit) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.PerSec), l.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// Take spends one token from key's bucket. When the bucket is empty it returns
// false and how long until a token is available.
func (rl *RateLimiter) Take(key string, l Limit) (bool, time.Duration) {
	res := rl.bucketFor(key, l).Reserve()
	if !res.OK() {
		return false, time.Second
	}
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return false, d
	}
	return true, 0
}

// RateLimit enforces the class budget per principal. Requests without a principal
// share the anonymous budget of their client IP.
func RateLimit(rl *RateLimiter, class RateClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var key string
			var limit Limit

			if p := GetPrincipal(r.Context()); p != nil {
				key = string(class) + "|" + p.Actor
				limit = rl.config.Manage
				if class == ClassEvaluate {
					limit = rl.config.Evaluate
				}
			} else {
				// RealIP has already rewritten RemoteAddr when running behind a proxy.
				ip := r.RemoteAddr
				if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
					ip = host
				}
				key = "anon|" + ip
				limit = rl.config.Anonymous
			}

			ok, wait := rl.Take(key, limit)
			if !ok {
				retry := int(math.Ceil(wait.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
				w.Header().Set("X-RateLimit-Class", string(class))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
