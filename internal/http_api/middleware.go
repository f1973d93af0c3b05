package http_api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gasless-labs/feepayer/internal/metrics"
	"github.com/gasless-labs/feepayer/internal/relayer"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestId"
)

// requestIDMiddleware tags every request with a correlation id and binds a
// child logger carrying it to the request context.
func requestIDMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)

		ctx := logger.WithContext(c.Request.Context(), log.With("requestId", id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ipBurstFactor sizes the per-IP bucket relative to a credential's bucket,
// since several credentialed clients may share one address.
const ipBurstFactor = 4

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per client IP and, for callers presenting
// a bearer credential, a second bucket per credential. Both must allow the
// request. Credentials are not verified here, so the IP bucket is what bounds
// a caller rotating tokens.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	r        rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
}

func NewRateLimiter(r rate.Limit, burst int, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		r:        r,
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
		metrics:  m,
	}
}

func (rl *RateLimiter) getLimiter(key string, r rate.Limit, burst int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(r, burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = rl.now()
	return entry.limiter
}

// Allow charges the IP bucket first; the credential bucket is only created
// and charged once the IP bucket admits the request.
func (rl *RateLimiter) Allow(ip, credential string) bool {
	if !rl.getLimiter("ip:"+ip, rl.r*ipBurstFactor, rl.burst*ipBurstFactor).Allow() {
		return false
	}
	if credential == "" {
		return true
	}
	return rl.getLimiter("key:"+credential, rl.r, rl.burst).Allow()
}

// Cleanup drops buckets idle for longer than idleTTL. An idle bucket has
// refilled, so dropping it loses no state.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// StartCleanup runs Cleanup every interval until the returned stop function
// is called.
func (rl *RateLimiter) StartCleanup(interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP(), bearerToken(c)) {
			rl.metrics.RateLimitRejections.WithLabelValues(c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{
				Message:   "rate limit exceeded, slow down",
				Error:     string(relayer.KindRateLimited),
				RequestID: c.GetString(requestIDKey),
			})
			return
		}

		c.Next()
	}
}

// bearerToken returns the credential of an "Authorization: Bearer" header.
func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
