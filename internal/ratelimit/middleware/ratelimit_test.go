package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttkn/internal/ratelimit/metrics"
	"ttkn/internal/ratelimit/models"
	"ttkn/internal/ratelimit/store/bucket"
	"ttkn/pkg/platform/middleware/metadata"
	"ttkn/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.Result, error) {
	return nil, errors.New("store down")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/mint", nil)
	req = req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestPerIP(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	limiter := New(bucket.NewInMemoryBucketStore(), 2, time.Minute, WithLogger(discard()), WithMetrics(m))
	h := limiter.PerIP("mint")(okHandler())

	t.Run("allows up to the limit with headers", func(t *testing.T) {
		rec := serve(h, "203.0.113.1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

		rec = serve(h, "203.0.113.1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("rejects over the limit", func(t *testing.T) {
		rec := serve(h, "203.0.113.1")
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		var body models.ExceededResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "rate_limit_exceeded", body.Error)
		assert.GreaterOrEqual(t, body.RetryAfter, 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("mint")))
	})

	t.Run("other clients keep their own window", func(t *testing.T) {
		rec := serve(h, "198.51.100.9")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("scopes do not share windows", func(t *testing.T) {
		other := limiter.PerIP("other")(okHandler())
		rec := serve(other, "203.0.113.1")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestPerIPFailsOpen(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := New(failingStore{}, 1, time.Minute, WithLogger(discard()), WithMetrics(m)).PerIP("mint")(okHandler())

	for range 3 {
		rec := serve(h, "203.0.113.1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FailOpens.WithLabelValues("mint")))
}

func TestPerIPKeysOnTrustedClientAddress(t *testing.T) {
	lb := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	limiter := New(bucket.NewInMemoryBucketStore(), 2, time.Minute, WithLogger(discard()))
	h := metadata.ClientMetadata(lb)(limiter.PerIP("mint")(okHandler()))

	send := func(remote, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/mint", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("rotating forwarded-for from a direct peer does not reset the window", func(t *testing.T) {
		var allowed int
		for i := range 20 {
			if send("203.0.113.7:40000", "10.0.0."+strconv.Itoa(i)) == http.StatusOK {
				allowed++
			}
		}
		assert.Equal(t, 2, allowed)
	})

	t.Run("clients behind the load balancer get their own windows", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send("10.1.1.1:5000", "198.51.100.1"))
		assert.Equal(t, http.StatusOK, send("10.1.1.1:5000", "198.51.100.1"))
		assert.Equal(t, http.StatusTooManyRequests, send("10.1.1.1:5000", "198.51.100.1"))
		assert.Equal(t, http.StatusOK, send("10.1.1.1:5000", "198.51.100.2"))
	})

	t.Run("spoofed hops ahead of the load balancer entry are ignored", func(t *testing.T) {
		for i := range 5 {
			code := send("10.1.1.1:5000", "192.0.2."+strconv.Itoa(i)+", 198.51.100.3")
			if i < 2 {
				assert.Equal(t, http.StatusOK, code)
			} else {
				assert.Equal(t, http.StatusTooManyRequests, code)
			}
		}
	})
}
