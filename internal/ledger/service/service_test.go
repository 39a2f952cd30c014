package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ttkn/internal/ledger/metrics"
	"ttkn/internal/ledger/models"
	"ttkn/internal/ledger/service"
	"ttkn/internal/ledger/service/mocks"
	"ttkn/internal/ledger/store/memory"
	"ttkn/pkg/domain"
	dErrors "ttkn/pkg/domain-errors"
	"ttkn/pkg/platform/audit"
)

// =============================================================================
// Ledger Service Test Suite
// =============================================================================
// Runs the service against the in-memory store so every property is checked
// through real transitions. The audit publisher is mocked to capture what is
// fanned out after commit.

var (
	owner   = domain.MustParseAccount("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	alice   = domain.MustParseAccount("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob     = domain.MustParseAccount("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	charlie = domain.MustParseAccount("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
)

type LedgerServiceSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	publisher *mocks.MockAuditPublisher
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	service   *service.Service

	mu      sync.Mutex
	audited []audit.Event
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.audited = nil
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.audited = append(s.audited, e)
		return nil
	}).AnyTimes()

	s.registry = prometheus.NewRegistry()
	s.metrics = metrics.New(s.registry)

	var err error
	s.service, err = service.New(memory.New(),
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		service.WithAuditPublisher(s.publisher),
		service.WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.Require().NoError(s.service.Bootstrap(s.ctx, owner))
}

func (s *LedgerServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *LedgerServiceSuite) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audited))
	for _, e := range s.audited {
		out = append(out, e.Action)
	}
	return out
}

func (s *LedgerServiceSuite) balance(account domain.Account) *uint256.Int {
	b, err := s.service.BalanceOf(s.ctx, account)
	s.Require().NoError(err)
	return b
}

func (s *LedgerServiceSuite) minted(account domain.Account) *uint256.Int {
	m, err := s.service.MintedTokens(s.ctx, account)
	s.Require().NoError(err)
	return m
}

func (s *LedgerServiceSuite) people() uint64 {
	n, err := s.service.TotalPeople(s.ctx)
	s.Require().NoError(err)
	return n
}

func (s *LedgerServiceSuite) mintTimes(account domain.Account, n int) {
	for i := 0; i < n; i++ {
		_, err := s.service.MintForPerson(s.ctx, account)
		s.Require().NoError(err)
	}
}

// =============================================================================
// Constructor and bootstrap
// =============================================================================

func (s *LedgerServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := service.New(nil)
		s.Require().Error(err)
		s.Contains(err.Error(), "ledger store is required")
	})
}

func (s *LedgerServiceSuite) TestBootstrap() {
	s.Run("fresh ledger credits the owner", func() {
		s.Equal(models.InitialSupply(), s.balance(owner))
		s.Zero(s.people())
		supply, err := s.service.TotalSupply(s.ctx)
		s.Require().NoError(err)
		s.Equal(models.InitialSupply(), supply)
		s.Equal([]string{string(audit.EventLedgerInitialized)}, s.auditActions())
	})

	s.Run("same owner is idempotent", func() {
		s.Require().NoError(s.service.Bootstrap(s.ctx, owner))
		s.Equal(models.InitialSupply(), s.balance(owner))
	})

	s.Run("different owner is rejected", func() {
		err := s.service.Bootstrap(s.ctx, alice)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		got, err := s.service.Owner(s.ctx)
		s.Require().NoError(err)
		s.Equal(owner, got)
	})

	s.Run("zero owner is rejected", func() {
		svc, err := service.New(memory.New())
		s.Require().NoError(err)
		err = svc.Bootstrap(s.ctx, domain.ZeroAccount)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("uninitialized ledger reports unavailable", func() {
		svc, err := service.New(memory.New())
		s.Require().NoError(err)
		_, err = svc.MintForPerson(s.ctx, alice)
		s.Require().ErrorIs(err, service.ErrNotInitialized)
	})
}

// =============================================================================
// Public mint path
// =============================================================================

func (s *LedgerServiceSuite) TestMintForPerson() {
	s.Run("first mint credits one token and adds the person", func() {
		result, err := s.service.MintForPerson(s.ctx, alice)
		s.Require().NoError(err)

		s.Equal(domain.Tokens(1), s.balance(alice))
		s.Equal(domain.Tokens(1), s.minted(alice))
		s.Equal(uint64(1), s.people())
		s.True(result.FirstMint)
		s.Equal(uint64(1), result.TotalPeople)

		s.Require().Len(result.Events, 2)
		added, minted := result.Events[0], result.Events[1]
		s.Equal(models.EventPersonAdded, added.Kind)
		s.Equal(alice, added.Account)
		s.Equal(uint64(1), added.PersonCount)
		s.Equal(models.EventTokensMinted, minted.Kind)
		s.Equal(*domain.Tokens(1), minted.Amount)
		s.Equal(*domain.Tokens(1), minted.TotalMinted)
		s.Equal(added.TransitionID, minted.TransitionID)
		s.Less(added.Seq, minted.Seq)

		s.Equal([]string{
			string(audit.EventLedgerInitialized),
			string(audit.EventPersonAdded),
			string(audit.EventTokensMinted),
		}, s.auditActions())
	})

	s.Run("repeat mint emits only TokensMinted", func() {
		result, err := s.service.MintForPerson(s.ctx, alice)
		s.Require().NoError(err)
		s.False(result.FirstMint)
		s.Require().Len(result.Events, 1)
		s.Equal(models.EventTokensMinted, result.Events[0].Kind)
		s.Equal(*domain.Tokens(2), result.Events[0].TotalMinted)
		s.Equal(uint64(1), s.people())
	})

	s.Run("owner follows the same cap rules", func() {
		_, err := s.service.MintForPerson(s.ctx, owner)
		s.Require().NoError(err)
		s.Equal(domain.Tokens(1), s.minted(owner))
		expected := new(uint256.Int).Add(models.InitialSupply(), domain.Tokens(1))
		s.Equal(expected, s.balance(owner))
	})

	s.Run("zero recipient is rejected", func() {
		_, err := s.service.MintForPerson(s.ctx, domain.ZeroAccount)
		s.Require().ErrorIs(err, service.ErrInvalidAccount)
		s.Equal("invalid_input: invalid receiver: zero address", err.Error())
	})
}

func (s *LedgerServiceSuite) TestCap() {
	s.mintTimes(alice, 5)
	s.Equal(domain.Tokens(5), s.balance(alice))

	supplyBefore, err := s.service.TotalSupply(s.ctx)
	s.Require().NoError(err)
	eventsBefore, err := s.service.Events(s.ctx, models.EventFilter{})
	s.Require().NoError(err)

	_, err = s.service.MintForPerson(s.ctx, alice)
	s.Require().ErrorIs(err, service.ErrCapExceeded)
	s.Contains(err.Error(), "address has reached maximum mint limit")

	s.Equal(domain.Tokens(5), s.balance(alice))
	s.Equal(domain.Tokens(5), s.minted(alice))
	supplyAfter, err := s.service.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(supplyBefore, supplyAfter)
	eventsAfter, err := s.service.Events(s.ctx, models.EventFilter{})
	s.Require().NoError(err)
	s.Equal(eventsBefore, eventsAfter)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.MintsTotal.WithLabelValues(metrics.PathPublic, "cap_exceeded")))
	s.Equal(5.0, testutil.ToFloat64(s.metrics.MintsTotal.WithLabelValues(metrics.PathPublic, "success")))
}

func (s *LedgerServiceSuite) TestRemainingAndCanMint() {
	s.mintTimes(alice, 1)
	remaining, err := s.service.RemainingMintableTokens(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal(domain.Tokens(4), remaining)
	can, err := s.service.CanMint(s.ctx, alice)
	s.Require().NoError(err)
	s.True(can)

	s.mintTimes(alice, 4)
	remaining, err = s.service.RemainingMintableTokens(s.ctx, alice)
	s.Require().NoError(err)
	s.True(remaining.IsZero())
	can, err = s.service.CanMint(s.ctx, alice)
	s.Require().NoError(err)
	s.False(can)

	summary, err := s.service.AccountSummary(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal(*domain.Tokens(5), summary.Balance)
	s.Equal(*domain.Tokens(5), summary.Minted)
	s.True(summary.Remaining.IsZero())
	s.False(summary.CanMint)
}

func (s *LedgerServiceSuite) TestReadsAreIdempotent() {
	s.mintTimes(alice, 2)
	first, err := s.service.AccountSummary(s.ctx, alice)
	s.Require().NoError(err)
	second, err := s.service.AccountSummary(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal(first, second)

	unknown, err := s.service.AccountSummary(s.ctx, charlie)
	s.Require().NoError(err)
	s.True(unknown.Balance.IsZero())
	s.Equal(*models.Cap(), unknown.Remaining)
	s.True(unknown.CanMint)
}

// =============================================================================
// Privileged mint path
// =============================================================================

func (s *LedgerServiceSuite) TestOwnerMint() {
	s.Run("owner credits any amount without touching the policy", func() {
		s.mintTimes(alice, 1)
		peopleBefore := s.people()

		result, err := s.service.OwnerMint(s.ctx, owner, bob, domain.Tokens(10))
		s.Require().NoError(err)
		s.Equal(*domain.Tokens(10), result.Balance)

		s.Equal(domain.Tokens(10), s.balance(bob))
		s.True(s.minted(bob).IsZero())
		s.Equal(peopleBefore, s.people())

		events, err := s.service.Events(s.ctx, models.EventFilter{Account: &bob})
		s.Require().NoError(err)
		s.Empty(events)
	})

	s.Run("amount above the cap is allowed", func() {
		_, err := s.service.OwnerMint(s.ctx, owner, alice, domain.Tokens(50))
		s.Require().NoError(err)
		s.Equal(domain.Tokens(1), s.minted(alice))
		can, err := s.service.CanMint(s.ctx, alice)
		s.Require().NoError(err)
		s.True(can)
	})

	s.Run("zero amount is a no-op", func() {
		before := s.balance(bob)
		_, err := s.service.OwnerMint(s.ctx, owner, bob, new(uint256.Int))
		s.Require().NoError(err)
		s.Equal(before, s.balance(bob))
	})

	s.Run("non-owner is rejected before anything changes", func() {
		_, err := s.service.OwnerMint(s.ctx, alice, charlie, domain.Tokens(3))
		s.Require().ErrorIs(err, service.ErrUnauthorized)
		s.Equal("forbidden: OwnableUnauthorizedAccount("+alice.String()+")", err.Error())
		s.True(s.balance(charlie).IsZero())

		actions := s.auditActions()
		s.Equal(string(audit.EventOwnerMintDenied), actions[len(actions)-1])
	})

	s.Run("authorization is checked before the recipient", func() {
		_, err := s.service.OwnerMint(s.ctx, alice, domain.ZeroAccount, domain.Tokens(1))
		s.Require().ErrorIs(err, service.ErrUnauthorized)

		_, err = s.service.OwnerMint(s.ctx, owner, domain.ZeroAccount, domain.Tokens(1))
		s.Require().ErrorIs(err, service.ErrInvalidAccount)
		s.NotErrorIs(err, service.ErrUnauthorized)
	})

	s.Run("overflow is rejected without wrapping", func() {
		supplyBefore, err := s.service.TotalSupply(s.ctx)
		s.Require().NoError(err)

		huge := new(uint256.Int).SetAllOne()
		_, err = s.service.OwnerMint(s.ctx, owner, charlie, huge)
		s.Require().ErrorIs(err, service.ErrOverflow)

		s.True(s.balance(charlie).IsZero())
		supplyAfter, err := s.service.TotalSupply(s.ctx)
		s.Require().NoError(err)
		s.Equal(supplyBefore, supplyAfter)
	})
}

// =============================================================================
// Properties
// =============================================================================

// TestSupplyEqualsSumOfBalances checks total supply tracks every credit.
func (s *LedgerServiceSuite) TestSupplyEqualsSumOfBalances() {
	s.mintTimes(alice, 3)
	s.mintTimes(bob, 1)
	_, err := s.service.OwnerMint(s.ctx, owner, charlie, domain.Tokens(7))
	s.Require().NoError(err)

	sum := new(uint256.Int)
	for _, a := range []domain.Account{owner, alice, bob, charlie} {
		sum.Add(sum, s.balance(a))
	}
	supply, err := s.service.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(sum, supply)

	info, err := s.service.TokenInfo(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.TokenName, info.Name)
	s.Equal(models.TokenSymbol, info.Symbol)
	s.Equal(uint8(18), info.Decimals)
	s.Equal(owner, info.Owner)
	s.Equal(*supply, info.TotalSupply)
	s.Equal(uint64(2), info.TotalPeople)
}

// TestConcurrentMintsRespectCap races many public mints for one account.
func (s *LedgerServiceSuite) TestConcurrentMintsRespectCap() {
	const workers = 50
	var (
		wg        sync.WaitGroup
		successes int
		capped    int
		mu        sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.MintForPerson(s.ctx, alice)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, service.ErrCapExceeded):
				capped++
			}
		}()
	}
	wg.Wait()

	s.Equal(5, successes)
	s.Equal(workers-5, capped)
	s.Equal(domain.Tokens(5), s.balance(alice))
	s.Equal(uint64(1), s.people())

	added, err := s.service.Events(s.ctx, models.EventFilter{Account: &alice, Kind: models.EventPersonAdded})
	s.Require().NoError(err)
	s.Len(added, 1)
}

// TestConcurrentFirstMints races first mints across distinct accounts.
func (s *LedgerServiceSuite) TestConcurrentFirstMints() {
	accounts := []domain.Account{alice, bob, charlie}
	var wg sync.WaitGroup
	for _, a := range accounts {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(a domain.Account) {
				defer wg.Done()
				_, _ = s.service.MintForPerson(s.ctx, a)
			}(a)
		}
	}
	wg.Wait()

	s.Equal(uint64(3), s.people())
	added, err := s.service.Events(s.ctx, models.EventFilter{Kind: models.EventPersonAdded})
	s.Require().NoError(err)
	s.Require().Len(added, 3)
	counts := make([]uint64, 0, 3)
	for _, e := range added {
		counts = append(counts, e.PersonCount)
	}
	s.Equal([]uint64{1, 2, 3}, counts)
}

func (s *LedgerServiceSuite) TestEventsFilter() {
	s.Run("rejects unknown kind", func() {
		_, err := s.service.Events(s.ctx, models.EventFilter{Kind: "Transfer"})
		s.Require().ErrorIs(err, service.ErrInvalidEventKind)
	})

	s.Run("pages by sequence", func() {
		s.mintTimes(alice, 2)
		s.mintTimes(bob, 1)
		page, err := s.service.Events(s.ctx, models.EventFilter{Limit: 2})
		s.Require().NoError(err)
		s.Require().Len(page, 2)
		next, err := s.service.Events(s.ctx, models.EventFilter{AfterSeq: page[1].Seq})
		s.Require().NoError(err)
		s.Len(next, 3)
	})
}

func (s *LedgerServiceSuite) TestClockOption() {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc, err := service.New(memory.New(), service.WithClock(func() time.Time { return fixed }))
	s.Require().NoError(err)
	s.Require().NoError(svc.Bootstrap(s.ctx, owner))
	result, err := svc.MintForPerson(s.ctx, alice)
	s.Require().NoError(err)
	for _, e := range result.Events {
		s.Equal(fixed, e.Timestamp)
	}
}
