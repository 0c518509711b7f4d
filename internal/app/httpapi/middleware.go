package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/acilabs/toolcatalog/pkg/logger"
)

// HeaderAPIKeyID carries the caller identity. Requests without it act as
// anonymous callers and see only the shared catalog tier.
const HeaderAPIKeyID = "X-API-Key-ID"

type ctxKey int

const ctxOwnerKey ctxKey = iota

// tenantMiddleware resolves the caller key from the request headers. A
// malformed key is rejected rather than silently treated as anonymous.
func tenantMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderAPIKeyID)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				log.WithField("key", raw).Warn("rejecting malformed API key id")
				writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid %s header", HeaderAPIKeyID))
				return
			}
			next.ServeHTTP(w, r.WithContext(withOwnerKey(r.Context(), &id)))
		})
	}
}

func withOwnerKey(ctx context.Context, key *uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxOwnerKey, key)
}

// ownerKey returns the caller key set by the tenant middleware, or nil for
// anonymous requests.
func ownerKey(ctx context.Context) *uuid.UUID {
	key, _ := ctx.Value(ctxOwnerKey).(*uuid.UUID)
	return key
}

// RateLimiter throttles requests per caller key, falling back to the remote
// address for anonymous callers.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter builds a limiter allowing requestsPerSecond sustained with
// the given burst per client.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Bound memory under key churn.
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := rl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = lim
	}
	return lim
}

// Middleware enforces the rate limit.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if owner := ownerKey(r.Context()); owner != nil {
			key = owner.String()
		}
		if !rl.limiter(key).Allow() {
			writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
