package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "ttkn/internal/jwt_token"
	"ttkn/internal/ledger/service"
	ledgermemory "ttkn/internal/ledger/store/memory"
	"ttkn/pkg/domain"
	"ttkn/pkg/platform/audit/publisher"
	auditmemory "ttkn/pkg/platform/audit/store/memory"
	adminmw "ttkn/pkg/platform/middleware/admin"
	authmw "ttkn/pkg/platform/middleware/auth"
	request "ttkn/pkg/platform/middleware/request"
	"ttkn/pkg/testutil"
)

const adminToken = "let-me-in"

// newStack wires the real service, memory store, JWT auth and audit store.
func newStack(t *testing.T) (http.Handler, *jwttoken.JWTService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	auditStore := auditmemory.NewInMemoryStore()
	pub := publisher.NewPublisher(auditStore, publisher.WithLogger(logger))
	t.Cleanup(pub.Close)

	svc, err := service.New(ledgermemory.New(),
		service.WithLogger(logger),
		service.WithAuditPublisher(pub),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Bootstrap(context.Background(), owner))

	jwtSvc := jwttoken.NewJWTService("test-signing-key", "ttkn", "ttkn-api")
	h := New(svc,
		authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtSvc), logger),
		logger,
		WithAuditLog(auditStore, adminmw.RequireAdminToken(adminToken, logger)),
	)

	r := chi.NewRouter()
	r.Use(request.RequestID, request.ContentTypeJSON)
	h.Register(r)
	return r, jwtSvc
}

func bearer(t *testing.T, jwtSvc *jwttoken.JWTService, account domain.Account, req *http.Request) *http.Request {
	t.Helper()
	token, err := jwtSvc.GenerateAccessToken(account, time.Minute)
	require.NoError(t, err)
	return testutil.WithBearer(req, token)
}

func TestLedgerFlow(t *testing.T) {
	router, jwtSvc := newStack(t)

	testutil.Given(t, "a freshly bootstrapped ledger", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/token"))
		testutil.AssertStatusOK(t, rr)
		info := testutil.UnmarshalResponse[TokenInfoResponse](t, rr)
		assert.Equal(t, "1000", info.TotalSupply.Formatted)
		assert.Equal(t, owner, info.Owner)

		testutil.When(t, "a person mints up to the cap", func(t *testing.T) {
			for i := 0; i < 5; i++ {
				rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/mint", MintRequest{Recipient: alice.String()}))
				testutil.AssertStatusOK(t, rr)
			}

			testutil.Then(t, "the next mint is rejected", func(t *testing.T) {
				rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/mint", MintRequest{Recipient: alice.String()}))
				testutil.AssertStatusAndError(t, rr, http.StatusConflict, "cap_exceeded")
			})

			testutil.Then(t, "the account reads back as capped", func(t *testing.T) {
				rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/accounts/"+alice.String()))
				testutil.AssertStatusOK(t, rr)
				summary := testutil.UnmarshalResponse[AccountSummaryResponse](t, rr)
				assert.Equal(t, "5", summary.Balance.Formatted)
				assert.Equal(t, "0", summary.Remaining.Formatted)
				assert.False(t, summary.CanMint)
			})

			testutil.Then(t, "the person is counted once", func(t *testing.T) {
				rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/people/count"))
				testutil.AssertJSONContains(t, rr, "total_people", float64(1))
			})
		})

		testutil.When(t, "the owner mints with a valid token", func(t *testing.T) {
			req := bearer(t, jwtSvc, owner, testutil.NewJSONRequest(t, http.MethodPost, "/v1/owner/mint",
				OwnerMintRequest{Recipient: bob.String(), Amount: domain.Tokens(10).Dec()}))
			rr := testutil.DoRequest(router, req)
			testutil.AssertStatusOK(t, rr)

			testutil.Then(t, "supply grows without touching the mint counter", func(t *testing.T) {
				resp := testutil.UnmarshalResponse[OwnerMintResponse](t, rr)
				assert.Equal(t, "1015", resp.TotalSupply.Formatted)

				rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/accounts/"+bob.String()+"/minted"))
				testutil.AssertStatusOK(t, rr)
				body := testutil.UnmarshalResponse[map[string]any](t, rr)
				assert.Equal(t, map[string]any{"value": "0", "formatted": "0"}, (*body)["minted"])
			})
		})

		testutil.When(t, "someone else calls owner mint", func(t *testing.T) {
			testutil.Then(t, "a missing token is unauthorized", func(t *testing.T) {
				rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/owner/mint",
					OwnerMintRequest{Recipient: bob.String(), Amount: "1"}))
				testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
			})

			testutil.Then(t, "a valid non-owner token is forbidden", func(t *testing.T) {
				req := bearer(t, jwtSvc, alice, testutil.NewJSONRequest(t, http.MethodPost, "/v1/owner/mint",
					OwnerMintRequest{Recipient: bob.String(), Amount: "1"}))
				rr := testutil.DoRequest(router, req)
				testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
			})
		})

		testutil.Then(t, "the event log pages in order", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/events?limit=4"))
			testutil.AssertStatusOK(t, rr)
			page := testutil.UnmarshalResponse[EventsResponse](t, rr)
			require.Len(t, page.Events, 4)
			assert.Equal(t, uint64(4), page.NextAfter)

			rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/events?after=4"))
			page = testutil.UnmarshalResponse[EventsResponse](t, rr)
			require.Len(t, page.Events, 2)
			assert.Equal(t, uint64(5), page.Events[0].Seq)
		})

		testutil.Then(t, "the audit trail is readable with the admin token", func(t *testing.T) {
			req := testutil.NewRequest(t, http.MethodGet, "/v1/admin/audit?subject="+alice.String())
			rr := testutil.DoRequest(router, req)
			testutil.AssertStatus(t, rr, http.StatusUnauthorized)

			req = testutil.NewRequest(t, http.MethodGet, "/v1/admin/audit?subject="+alice.String())
			req.Header.Set("X-Admin-Token", adminToken)
			rr = testutil.DoRequest(router, req)
			testutil.AssertStatusOK(t, rr)
			trail := testutil.UnmarshalResponse[AuditLogResponse](t, rr)
			assert.NotEmpty(t, trail.Events)
		})
	})
}
