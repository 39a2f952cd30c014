package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ttkn/internal/ledger/handler/mocks"
	"ttkn/internal/ledger/models"
	"ttkn/internal/ledger/service"
	"ttkn/pkg/domain"
	audit "ttkn/pkg/platform/audit"
	"ttkn/pkg/testutil"
)

var (
	owner = domain.MustParseAccount("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	alice = domain.MustParseAccount("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob   = domain.MustParseAccount("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func passthrough(next http.Handler) http.Handler { return next }

type HandlerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	ledger *mocks.MockService
	audit  *mocks.MockAuditReader
	router chi.Router
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ledger = mocks.NewMockService(s.ctrl)
	s.audit = mocks.NewMockAuditReader(s.ctrl)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.ledger, passthrough, logger, WithAuditLog(s.audit, passthrough))
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) TestTokenInfo() {
	s.ledger.EXPECT().TokenInfo(gomock.Any()).Return(&models.TokenInfo{
		Name:        models.TokenName,
		Symbol:      models.TokenSymbol,
		Decimals:    domain.Decimals,
		TotalSupply: *domain.Tokens(1000),
		Owner:       owner,
		Cap:         *models.Cap(),
		UnitMint:    *models.UnitMint(),
		TotalPeople: 3,
	}, nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/token"))
	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[TokenInfoResponse](s.T(), rr)
	s.Equal("TTKN", resp.Symbol)
	s.Equal(owner, resp.Owner)
	s.Equal("1000000000000000000000", resp.TotalSupply.Value)
	s.Equal("1000", resp.TotalSupply.Formatted)
	s.Equal("5", resp.Cap.Formatted)
	s.Equal("1", resp.UnitMint.Formatted)
	s.Equal(uint64(3), resp.TotalPeople)
}

func (s *HandlerSuite) TestAccountReads() {
	s.Run("summary", func() {
		s.ledger.EXPECT().AccountSummary(gomock.Any(), alice).Return(&models.AccountSummary{
			Account:   alice,
			Balance:   *domain.Tokens(2),
			Minted:    *domain.Tokens(2),
			Remaining: *domain.Tokens(3),
			CanMint:   true,
		}, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/accounts/"+alice.String()))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[AccountSummaryResponse](s.T(), rr)
		s.Equal("3", resp.Remaining.Formatted)
		s.True(resp.CanMint)
	})

	s.Run("lowercase account is accepted", func() {
		s.ledger.EXPECT().BalanceOf(gomock.Any(), alice).Return(domain.Tokens(2), nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/accounts/"+alice.Key()+"/balance"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		s.Equal(alice.String(), (*resp)["account"])
		s.Equal(map[string]any{"value": "2000000000000000000", "formatted": "2"}, (*resp)["balance"])
	})

	s.Run("minted and remaining", func() {
		s.ledger.EXPECT().MintedTokens(gomock.Any(), bob).Return(new(uint256.Int), nil)
		s.ledger.EXPECT().RemainingMintableTokens(gomock.Any(), bob).Return(models.Cap(), nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/accounts/"+bob.String()+"/minted"))
		testutil.AssertStatusOK(s.T(), rr)
		rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/accounts/"+bob.String()+"/remaining"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONHasKey(s.T(), rr, "remaining")
	})

	s.Run("can mint", func() {
		s.ledger.EXPECT().CanMint(gomock.Any(), bob).Return(false, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/accounts/"+bob.String()+"/can-mint"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "can_mint", false)
	})

	s.Run("malformed account", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/accounts/0x1234/balance"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("bad checksum", func() {
		bad := "0xf39fd6e51aad88F6F4ce6aB8827279cffFb92266"
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/accounts/"+bad))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})
}

func (s *HandlerSuite) TestTotalPeople() {
	s.ledger.EXPECT().TotalPeople(gomock.Any()).Return(uint64(7), nil)
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/people/count"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "total_people", float64(7))
}

func (s *HandlerSuite) TestMint() {
	s.Run("first mint", func() {
		transition := uuid.New()
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		s.ledger.EXPECT().MintForPerson(gomock.Any(), alice).Return(&models.MintResult{
			Recipient:    alice,
			Amount:       *models.UnitMint(),
			MintedToDate: *models.UnitMint(),
			Balance:      *models.UnitMint(),
			FirstMint:    true,
			TotalPeople:  1,
			Events: []models.Event{
				{Seq: 1, TransitionID: transition, Kind: models.EventPersonAdded, Account: alice, PersonCount: 1, Timestamp: now},
				{Seq: 2, TransitionID: transition, Kind: models.EventTokensMinted, Account: alice,
					Amount: *models.UnitMint(), TotalMinted: *models.UnitMint(), Timestamp: now},
			},
		}, nil)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/mint", MintRequest{Recipient: alice.String()})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[MintResponse](s.T(), rr)
		s.True(resp.FirstMint)
		s.Require().Len(resp.Events, 2)
		s.Equal(models.EventPersonAdded, resp.Events[0].Kind)
		s.Nil(resp.Events[0].Amount)
		s.Require().NotNil(resp.Events[0].PersonCount)
		s.Equal(uint64(1), *resp.Events[0].PersonCount)
		s.Require().NotNil(resp.Events[1].TotalMinted)
		s.Equal("1", resp.Events[1].TotalMinted.Formatted)
		s.Nil(resp.Events[1].PersonCount)
	})

	s.Run("cap exceeded", func() {
		s.ledger.EXPECT().MintForPerson(gomock.Any(), alice).Return(nil, service.ErrCapExceeded)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/mint", MintRequest{Recipient: alice.String()})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusConflict)
		errResp := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Equal("cap_exceeded", errResp["error"])
		s.Equal("address has reached maximum mint limit", errResp["error_description"])
	})

	s.Run("zero address is left to the ledger", func() {
		s.ledger.EXPECT().MintForPerson(gomock.Any(), domain.ZeroAccount).Return(nil, service.ErrInvalidAccount)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/mint", MintRequest{Recipient: domain.ZeroAccount.String()})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("unknown fields are rejected", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/v1/mint", `{"recipient":"`+alice.String()+`","amount":"9"}`)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("empty body", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/v1/mint", "")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("store failure hides details", func() {
		s.ledger.EXPECT().MintForPerson(gomock.Any(), bob).Return(nil, errors.New("disk on fire"))
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/mint", MintRequest{Recipient: bob.String()})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		errResp := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Equal("internal_error", errResp["error"])
		s.Empty(errResp["error_description"])
	})

	s.Run("not initialized", func() {
		s.ledger.EXPECT().MintForPerson(gomock.Any(), bob).Return(nil, service.ErrNotInitialized)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/mint", MintRequest{Recipient: bob.String()})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "unavailable")
	})
}

func (s *HandlerSuite) TestOwnerMint() {
	body := OwnerMintRequest{Recipient: bob.String(), Amount: domain.Tokens(10).Dec()}

	s.Run("owner mints", func() {
		s.ledger.EXPECT().OwnerMint(gomock.Any(), owner, bob, domain.Tokens(10)).Return(&models.OwnerMintResult{
			Recipient:   bob,
			Amount:      *domain.Tokens(10),
			Balance:     *domain.Tokens(10),
			TotalSupply: *domain.Tokens(1010),
		}, nil)
		req := testutil.WithCaller(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/owner/mint", body), owner)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[OwnerMintResponse](s.T(), rr)
		s.Equal("1010", resp.TotalSupply.Formatted)
	})

	s.Run("non-owner is forbidden", func() {
		s.ledger.EXPECT().OwnerMint(gomock.Any(), alice, bob, domain.Tokens(10)).Return(nil, service.ErrUnauthorized)
		req := testutil.WithCaller(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/owner/mint", body), alice)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("overflow", func() {
		huge := new(uint256.Int).SetAllOne()
		s.ledger.EXPECT().OwnerMint(gomock.Any(), owner, bob, huge).Return(nil, service.ErrOverflow)
		req := testutil.WithCaller(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/owner/mint",
			OwnerMintRequest{Recipient: bob.String(), Amount: huge.Dec()}), owner)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "overflow")
	})

	s.Run("negative amount", func() {
		req := testutil.WithCaller(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/owner/mint",
			OwnerMintRequest{Recipient: bob.String(), Amount: "-1"}), owner)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("missing caller", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/owner/mint", body)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	})
}

func (s *HandlerSuite) TestEvents() {
	s.Run("filters are forwarded", func() {
		want := models.EventFilter{Account: &alice, Kind: models.EventTokensMinted, AfterSeq: 4, Limit: 2}
		s.ledger.EXPECT().Events(gomock.Any(), want).Return([]models.Event{
			{Seq: 6, Kind: models.EventTokensMinted, Account: alice, Amount: *models.UnitMint(), TotalMinted: *domain.Tokens(2)},
			{Seq: 9, Kind: models.EventTokensMinted, Account: alice, Amount: *models.UnitMint(), TotalMinted: *domain.Tokens(3)},
		}, nil)
		path := "/v1/events?account=" + alice.String() + "&kind=TokensMinted&after=4&limit=2"
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, path))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[EventsResponse](s.T(), rr)
		s.Len(resp.Events, 2)
		s.Equal(uint64(9), resp.NextAfter)
	})

	s.Run("empty page keeps the cursor", func() {
		s.ledger.EXPECT().Events(gomock.Any(), models.EventFilter{AfterSeq: 12}).Return(nil, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/events?after=12"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[EventsResponse](s.T(), rr)
		s.Empty(resp.Events)
		s.Equal(uint64(12), resp.NextAfter)
	})

	s.Run("unknown kind", func() {
		s.ledger.EXPECT().Events(gomock.Any(), models.EventFilter{Kind: "Transfer"}).Return(nil, service.ErrInvalidEventKind)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/events?kind=Transfer"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("bad cursor", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/events?after=-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
		rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/events?limit=0"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestAuditLog() {
	event := audit.Event{
		ID:       uuid.New(),
		Category: audit.CategoryCompliance,
		Action:   string(audit.EventTokensMinted),
		Subject:  alice.String(),
		Seq:      2,
	}

	s.Run("by subject", func() {
		s.audit.EXPECT().ListBySubject(gomock.Any(), alice.String()).Return([]audit.Event{event}, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/admin/audit?subject="+alice.String()))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[AuditLogResponse](s.T(), rr)
		s.Require().Len(resp.Events, 1)
		s.Equal("compliance", resp.Events[0].Category)
	})

	s.Run("recent", func() {
		s.audit.EXPECT().ListRecent(gomock.Any(), 5).Return([]audit.Event{event}, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/admin/audit?limit=5"))
		testutil.AssertStatusOK(s.T(), rr)
	})

	s.Run("limit out of range", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/admin/audit?limit=5000"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("store down", func() {
		s.audit.EXPECT().ListRecent(gomock.Any(), models.DefaultEventLimit).Return(nil, errors.New("connection refused"))
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/admin/audit"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "unavailable")
	})
}

func TestAuditRoutesAbsentWithoutReader(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := New(mocks.NewMockService(ctrl), passthrough, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/v1/admin/audit"))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestMintLimiterWrapsOnlyPublicMint(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockService(ctrl)
	reject := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	h := New(ledger, passthrough, slog.New(slog.NewTextHandler(io.Discard, nil)), WithMintLimiter(reject))
	r := chi.NewRouter()
	h.Register(r)

	rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/v1/mint", MintRequest{Recipient: alice.String()}))
	testutil.AssertStatus(t, rr, http.StatusTooManyRequests)

	ledger.EXPECT().CanMint(gomock.Any(), alice).Return(true, nil)
	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/v1/accounts/"+alice.String()+"/can-mint"))
	testutil.AssertStatusOK(t, rr)
}
