package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,AuditReader

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"ttkn/internal/ledger/models"
	"ttkn/pkg/domain"
	dErrors "ttkn/pkg/domain-errors"
	audit "ttkn/pkg/platform/audit"
	"ttkn/pkg/platform/httputil"
	request "ttkn/pkg/platform/middleware/request"
	"ttkn/pkg/requestcontext"
)

// Service is the ledger surface served over HTTP.
type Service interface {
	MintForPerson(ctx context.Context, recipient domain.Account) (*models.MintResult, error)
	OwnerMint(ctx context.Context, caller, recipient domain.Account, amount *uint256.Int) (*models.OwnerMintResult, error)
	BalanceOf(ctx context.Context, account domain.Account) (*uint256.Int, error)
	MintedTokens(ctx context.Context, account domain.Account) (*uint256.Int, error)
	RemainingMintableTokens(ctx context.Context, account domain.Account) (*uint256.Int, error)
	CanMint(ctx context.Context, account domain.Account) (bool, error)
	TotalPeople(ctx context.Context) (uint64, error)
	TokenInfo(ctx context.Context) (*models.TokenInfo, error)
	AccountSummary(ctx context.Context, account domain.Account) (*models.AccountSummary, error)
	Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
}

// AuditReader reads back the audit trail for operator endpoints.
type AuditReader interface {
	ListBySubject(ctx context.Context, subject string) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

type Middleware = func(http.Handler) http.Handler

// Handler serves the ledger routes.
type Handler struct {
	ledger      Service
	logger      *slog.Logger
	requireAuth Middleware
	audit       AuditReader
	adminGuard  Middleware
	mintLimit   Middleware
}

type Option func(*Handler)

// WithAuditLog exposes the audit trail under /v1/admin, behind guard.
func WithAuditLog(reader AuditReader, guard Middleware) Option {
	return func(h *Handler) {
		h.audit = reader
		h.adminGuard = guard
	}
}

// WithMintLimiter wraps the public mint route, typically with a per-IP
// rate limiter.
func WithMintLimiter(limit Middleware) Option {
	return func(h *Handler) {
		h.mintLimit = limit
	}
}

// New creates a ledger Handler. requireAuth guards the owner-only routes and
// must store the caller account in the request context.
func New(ledger Service, requireAuth Middleware, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		ledger:      ledger,
		logger:      logger,
		requireAuth: requireAuth,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the ledger routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/token", h.handleTokenInfo)
		v1.Get("/people/count", h.handleTotalPeople)
		v1.Get("/events", h.handleEvents)

		v1.Route("/accounts/{account}", func(acct chi.Router) {
			acct.Get("/", h.handleAccountSummary)
			acct.Get("/balance", h.handleBalance)
			acct.Get("/minted", h.handleMinted)
			acct.Get("/remaining", h.handleRemaining)
			acct.Get("/can-mint", h.handleCanMint)
		})

		if h.mintLimit != nil {
			v1.With(h.mintLimit).Post("/mint", h.handleMint)
		} else {
			v1.Post("/mint", h.handleMint)
		}
		v1.With(h.requireAuth).Post("/owner/mint", h.handleOwnerMint)

		if h.audit != nil {
			v1.With(h.adminGuard).Get("/admin/audit", h.handleAuditLog)
		}
	})
}

func (h *Handler) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.ledger.TokenInfo(r.Context())
	if err != nil {
		h.writeError(w, r, "token info", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTokenInfoResponse(info))
}

func (h *Handler) handleTotalPeople(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.TotalPeople(r.Context())
	if err != nil {
		h.writeError(w, r, "total people", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PeopleCountResponse{TotalPeople: n})
}

func (h *Handler) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	account, ok := h.accountParam(w, r)
	if !ok {
		return
	}
	summary, err := h.ledger.AccountSummary(r.Context(), account)
	if err != nil {
		h.writeError(w, r, "account summary", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAccountSummaryResponse(summary))
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	h.serveAmount(w, r, "balance", h.ledger.BalanceOf)
}

func (h *Handler) handleMinted(w http.ResponseWriter, r *http.Request) {
	h.serveAmount(w, r, "minted", h.ledger.MintedTokens)
}

func (h *Handler) handleRemaining(w http.ResponseWriter, r *http.Request) {
	h.serveAmount(w, r, "remaining", h.ledger.RemainingMintableTokens)
}

// serveAmount answers the single-amount account reads.
func (h *Handler) serveAmount(w http.ResponseWriter, r *http.Request, field string,
	read func(context.Context, domain.Account) (*uint256.Int, error)) {
	account, ok := h.accountParam(w, r)
	if !ok {
		return
	}
	v, err := read(r.Context(), account)
	if err != nil {
		h.writeError(w, r, field, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"account": account,
		field:     toAmount(v),
	})
}

func (h *Handler) handleCanMint(w http.ResponseWriter, r *http.Request) {
	account, ok := h.accountParam(w, r)
	if !ok {
		return
	}
	can, err := h.ledger.CanMint(r.Context(), account)
	if err != nil {
		h.writeError(w, r, "can mint", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CanMintResponse{Account: account, CanMint: can})
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "mint", err)
		return
	}
	recipient, err := req.Parse()
	if err != nil {
		h.writeError(w, r, "mint", err)
		return
	}

	result, err := h.ledger.MintForPerson(r.Context(), recipient)
	if err != nil {
		h.writeError(w, r, "mint", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMintResponse(result))
}

func (h *Handler) handleOwnerMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requestcontext.Caller(ctx)
	if !ok {
		// RequireAuth sets the caller; reaching here means the route is misconfigured.
		h.logger.ErrorContext(ctx, "caller missing from context despite auth middleware",
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req OwnerMintRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "owner mint", err)
		return
	}
	recipient, amount, err := req.Parse()
	if err != nil {
		h.writeError(w, r, "owner mint", err)
		return
	}

	result, err := h.ledger.OwnerMint(ctx, caller, recipient, amount)
	if err != nil {
		h.writeError(w, r, "owner mint", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOwnerMintResponse(result))
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		h.writeError(w, r, "events", err)
		return
	}
	events, err := h.ledger.Events(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, "events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEventsResponse(events, filter.AfterSeq))
}

func (h *Handler) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		events []audit.Event
		err    error
	)
	if subject := r.URL.Query().Get("subject"); subject != "" {
		account, perr := domain.ParseAccount(subject)
		if perr != nil {
			h.writeError(w, r, "audit log", perr)
			return
		}
		events, err = h.audit.ListBySubject(ctx, account.String())
	} else {
		limit := models.DefaultEventLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit <= 0 || limit > models.MaxEventLimit {
				h.writeError(w, r, "audit log", dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 1000"))
				return
			}
		}
		events, err = h.audit.ListRecent(ctx, limit)
	}
	if err != nil {
		h.writeError(w, r, "audit log", dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuditLogResponse(events))
}

func (h *Handler) accountParam(w http.ResponseWriter, r *http.Request) (domain.Account, bool) {
	account, err := domain.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		h.writeError(w, r, "parse account", err)
		return domain.Account{}, false
	}
	return account, true
}

// writeError logs at a level matching the status and writes the response.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	status := httputil.StatusFor(dErrors.CodeOf(err))
	attrs := []any{
		"op", op,
		"status", status,
		"error", err,
		"request_id", request.GetRequestID(ctx),
	}
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.ErrorContext(ctx, "ledger request failed", attrs...)
	case status == http.StatusForbidden:
		h.logger.WarnContext(ctx, "ledger request forbidden", attrs...)
	default:
		h.logger.DebugContext(ctx, "ledger request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
