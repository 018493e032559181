package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts a request against key and decides whether it may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
	// Limiter stores the counters. If nil, an in-process sliding window
	// limiter is used, which only limits per replica.
	Limiter Limiter
}

// entry tracks request counts across two adjacent windows.
type entry struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

// SlidingWindow is an in-memory Limiter that weights the previous window by
// its overlap with the current one.
type SlidingWindow struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// NewSlidingWindow creates a SlidingWindow allowing limit requests per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:     limit,
		window:  window,
		entries: make(map[string]*entry),
	}
}

// Allow implements Limiter. It never fails.
func (sw *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	e, ok := sw.entries[key]
	if !ok {
		e = &entry{currStart: now}
		sw.entries[key] = e
	}

	if now.Sub(e.currStart) >= sw.window {
		e.prevCount = e.currCount
		e.prevStart = e.currStart
		e.currCount = 0
		e.currStart = now.Truncate(sw.window)
		if now.Sub(e.prevStart) >= 2*sw.window {
			e.prevCount = 0
		}
	}

	elapsed := now.Sub(e.currStart)
	overlap := math.Max(0, 1.0-elapsed.Seconds()/sw.window.Seconds())
	effective := e.prevCount*overlap + e.currCount
	resetAt := e.currStart.Add(sw.window)

	if effective >= float64(sw.max) {
		return Decision{ResetAt: resetAt}, nil
	}

	e.currCount++
	return Decision{
		Allowed:   true,
		Remaining: max(0, int(float64(sw.max)-effective-1)),
		ResetAt:   resetAt,
	}, nil
}

// Cleanup removes entries whose windows have fully expired.
func (sw *SlidingWindow) Cleanup(now time.Time) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for key, e := range sw.entries {
		if now.Sub(e.currStart) >= 2*sw.window {
			delete(sw.entries, key)
		}
	}
}

// StartCleanup evicts expired entries every two windows until ctx is done.
func (sw *SlidingWindow) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * sw.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				sw.Cleanup(now)
			}
		}
	}()
}

// RateLimit returns a middleware that enforces a per-key request limit.
// Every response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset; rejected requests get 429 with Retry-After. If the
// limiter itself fails the request is let through and the error logged.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSlidingWindow(cfg.Max, cfg.Window)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := max(0, time.Until(d.ResetAt))
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client address, checking X-Forwarded-For first,
// then X-Real-IP, then falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
