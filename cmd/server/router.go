package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jwttoken "ttkn/internal/jwt_token"
	"ttkn/internal/ledger/handler"
	"ttkn/internal/ledger/service"
	"ttkn/internal/platform/metrics"
	rlmetrics "ttkn/internal/ratelimit/metrics"
	rlmw "ttkn/internal/ratelimit/middleware"
	"ttkn/internal/ratelimit/store/bucket"
	"ttkn/pkg/platform/httputil"
	adminmw "ttkn/pkg/platform/middleware/admin"
	authmw "ttkn/pkg/platform/middleware/auth"
	"ttkn/pkg/platform/middleware/metadata"
	request "ttkn/pkg/platform/middleware/request"
	"ttkn/pkg/platform/middleware/requesttime"
)

func (a *app) router(svc *service.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(a.logger))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata(a.cfg.RateLimit.TrustedProxies))
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(a.logger))
	r.Use(request.Latency(metrics.New(nil)))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.handleReady(svc))
	r.Handle("/metrics", promhttp.Handler())

	jwtSvc := jwttoken.NewJWTService(a.cfg.JWT.SigningKey, a.cfg.JWT.Issuer, a.cfg.JWT.Audience)
	var opts []handler.Option
	if a.auditReader != nil {
		opts = append(opts, handler.WithAuditLog(a.auditReader, adminmw.RequireAdminToken(a.cfg.AdminToken, a.logger)))
	}
	if limiter := a.mintLimiter(); limiter != nil {
		opts = append(opts, handler.WithMintLimiter(limiter.PerIP("mint")))
	}
	ledger := handler.New(svc,
		authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtSvc), a.logger),
		a.logger,
		opts...,
	)

	r.Group(func(api chi.Router) {
		api.Use(request.Timeout(a.cfg.RequestTimeout))
		api.Use(request.ContentTypeJSON)
		ledger.Register(api)
	})
	return r
}

// mintLimiter shares windows through Redis when the ledger lives there, and
// keeps them in process otherwise.
func (a *app) mintLimiter() *rlmw.Limiter {
	if a.cfg.RateLimit.Mint <= 0 {
		return nil
	}
	var store rlmw.BucketStore = bucket.NewInMemoryBucketStore()
	if a.redis != nil {
		store = bucket.NewRedisBucketStore(a.redis.Client)
	}
	return rlmw.New(store, a.cfg.RateLimit.Mint, a.cfg.RateLimit.Window,
		rlmw.WithLogger(a.logger),
		rlmw.WithMetrics(rlmetrics.New(nil)),
	)
}

// handleReady reports whether the ledger and its backends answer.
func (a *app) handleReady(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		failures := map[string]string{}
		if _, err := svc.Owner(ctx); err != nil {
			failures["ledger"] = err.Error()
		}
		for _, c := range a.checks {
			if err := c.check(ctx); err != nil {
				failures[c.name] = err.Error()
			}
		}
		if len(failures) > 0 {
			a.logger.WarnContext(ctx, "readiness check failed", "failures", failures)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "unavailable",
				"failures": failures,
			})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
