// Package middleware limits requests per client IP with a sliding window.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ttkn/internal/ratelimit/metrics"
	"ttkn/internal/ratelimit/models"
	"ttkn/pkg/platform/httputil"
	"ttkn/pkg/requestcontext"
)

// BucketStore records requests against a sliding window per key.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Limiter struct {
	store   BucketStore
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// New builds a limiter allowing limit requests per window for each client IP.
func New(store BucketStore, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PerIP returns middleware that limits each client IP within scope. A store
// failure lets the request through.
func (l *Limiter) PerIP(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = "unknown"
			}

			result, err := l.store.Allow(ctx, models.Key(scope, ip), l.limit, l.window)
			if err != nil {
				l.logger.WarnContext(ctx, "rate limit check failed, allowing request",
					"scope", scope,
					"client_ip", ip,
					"error", err,
				)
				if l.metrics != nil {
					l.metrics.IncrementFailOpen(scope)
				}
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				l.logger.InfoContext(ctx, "rate limit exceeded",
					"scope", scope,
					"client_ip", ip,
					"retry_after", result.RetryAfter,
				)
				if l.metrics != nil {
					l.metrics.IncrementRejected(scope)
				}
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this IP address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
