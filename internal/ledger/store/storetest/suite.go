// Package storetest holds the behaviour every ledger store backend must share.
// Backend test files embed Suite and supply a fresh, empty store per test.
package storetest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/suite"

	"ttkn/internal/ledger/models"
	"ttkn/internal/ledger/service"
	"ttkn/pkg/domain"
	"ttkn/pkg/platform/sentinel"
)

var (
	Owner = domain.MustParseAccount("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	Alice = domain.MustParseAccount("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	Bob   = domain.MustParseAccount("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

type Suite struct {
	suite.Suite
	// NewStore returns an empty store. Called before every test.
	NewStore func() service.Store

	Ctx   context.Context
	Store service.Store
}

func (s *Suite) SetupTest() {
	s.Ctx = context.Background()
	s.Require().NotNil(s.NewStore, "NewStore must be set")
	s.Store = s.NewStore()
}

func (s *Suite) newService() *service.Service {
	svc, err := service.New(s.Store, service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
	return svc
}

// TestEmptyStore verifies an empty store has no owner and zero state.
func (s *Suite) TestEmptyStore() {
	s.Require().NoError(s.Store.View(s.Ctx, func(r service.Reader) error {
		_, err := r.Owner(s.Ctx)
		s.ErrorIs(err, sentinel.ErrNotFound)

		supply, err := r.TotalSupply(s.Ctx)
		s.Require().NoError(err)
		s.True(supply.IsZero())

		minted, err := r.MintedOf(s.Ctx, Alice)
		s.Require().NoError(err)
		s.True(minted.IsZero())

		events, err := r.Events(s.Ctx, models.EventFilter{})
		s.Require().NoError(err)
		s.Empty(events)
		return nil
	}))
}

// TestRollback verifies a failing transition leaves no trace.
func (s *Suite) TestRollback() {
	boom := errors.New("boom")
	err := s.Store.RunInTx(s.Ctx, func(tx service.Tx) error {
		s.Require().NoError(tx.SetOwner(s.Ctx, Owner))
		s.Require().NoError(tx.SetTotalSupply(s.Ctx, domain.Tokens(1)))
		s.Require().NoError(tx.SetBalance(s.Ctx, Alice, domain.Tokens(1)))
		s.Require().NoError(tx.AddRecipient(s.Ctx, Alice))
		_, err := tx.AppendEvents(s.Ctx, models.NewPersonAdded(uuid.New(), Alice, 1, time.Now()))
		s.Require().NoError(err)
		return boom
	})
	s.Require().ErrorIs(err, boom)

	s.Require().NoError(s.Store.View(s.Ctx, func(r service.Reader) error {
		_, err := r.Owner(s.Ctx)
		s.ErrorIs(err, sentinel.ErrNotFound)
		balance, err := r.BalanceOf(s.Ctx, Alice)
		s.Require().NoError(err)
		s.True(balance.IsZero())
		count, err := r.RecipientCount(s.Ctx)
		s.Require().NoError(err)
		s.Zero(count)
		return nil
	}))
}

// TestReadYourWrites verifies reads inside a transition see its staged writes.
func (s *Suite) TestReadYourWrites() {
	err := s.Store.RunInTx(s.Ctx, func(tx service.Tx) error {
		s.Require().NoError(tx.SetOwner(s.Ctx, Owner))
		s.Require().NoError(tx.SetTotalSupply(s.Ctx, domain.Tokens(1000)))
		s.Require().NoError(tx.SetMinted(s.Ctx, Alice, domain.Tokens(2)))
		s.Require().NoError(tx.AddRecipient(s.Ctx, Alice))

		owner, err := tx.Owner(s.Ctx)
		s.Require().NoError(err)
		s.Equal(Owner, owner)
		minted, err := tx.MintedOf(s.Ctx, Alice)
		s.Require().NoError(err)
		s.Equal(domain.Tokens(2), minted)
		seen, err := tx.IsRecipient(s.Ctx, Alice)
		s.Require().NoError(err)
		s.True(seen)
		count, err := tx.RecipientCount(s.Ctx)
		s.Require().NoError(err)
		s.Equal(uint64(1), count)
		return nil
	})
	s.Require().NoError(err)
}

// TestLargeAmountsRoundTrip verifies amounts near the 256-bit limit survive storage.
func (s *Suite) TestLargeAmountsRoundTrip() {
	huge := new(uint256.Int).SetAllOne()
	s.Require().NoError(s.Store.RunInTx(s.Ctx, func(tx service.Tx) error {
		s.Require().NoError(tx.SetOwner(s.Ctx, Owner))
		s.Require().NoError(tx.SetTotalSupply(s.Ctx, huge))
		return tx.SetBalance(s.Ctx, Bob, huge)
	}))
	s.Require().NoError(s.Store.View(s.Ctx, func(r service.Reader) error {
		balance, err := r.BalanceOf(s.Ctx, Bob)
		s.Require().NoError(err)
		s.Equal(huge, balance)
		return nil
	}))
}

// TestLedgerScenario drives the public and privileged paths through the service.
func (s *Suite) TestLedgerScenario() {
	svc := s.newService()
	s.Require().NoError(svc.Bootstrap(s.Ctx, Owner))
	s.Require().NoError(svc.Bootstrap(s.Ctx, Owner))

	for i := 0; i < 5; i++ {
		_, err := svc.MintForPerson(s.Ctx, Alice)
		s.Require().NoError(err)
	}
	_, err := svc.MintForPerson(s.Ctx, Alice)
	s.Require().ErrorIs(err, service.ErrCapExceeded)

	_, err = svc.OwnerMint(s.Ctx, Owner, Bob, domain.Tokens(10))
	s.Require().NoError(err)
	_, err = svc.OwnerMint(s.Ctx, Alice, Bob, domain.Tokens(10))
	s.Require().ErrorIs(err, service.ErrUnauthorized)

	summary, err := svc.AccountSummary(s.Ctx, Alice)
	s.Require().NoError(err)
	s.Equal(*domain.Tokens(5), summary.Balance)
	s.False(summary.CanMint)

	bob, err := svc.AccountSummary(s.Ctx, Bob)
	s.Require().NoError(err)
	s.Equal(*domain.Tokens(10), bob.Balance)
	s.True(bob.Minted.IsZero())

	people, err := svc.TotalPeople(s.Ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), people)

	supply, err := svc.TotalSupply(s.Ctx)
	s.Require().NoError(err)
	s.Equal(domain.Tokens(1015), supply)

	events, err := svc.Events(s.Ctx, models.EventFilter{})
	s.Require().NoError(err)
	s.Require().Len(events, 6)
	s.Equal(models.EventPersonAdded, events[0].Kind)
	for i, e := range events {
		s.Equal(uint64(i+1), e.Seq)
		s.Equal(Alice, e.Account)
	}
	s.Equal(*domain.Tokens(5), events[5].TotalMinted)

	page, err := svc.Events(s.Ctx, models.EventFilter{AfterSeq: 2, Limit: 2, Kind: models.EventTokensMinted})
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal(uint64(3), page[0].Seq)
}

// TestConcurrentMints races public mints for one account.
func (s *Suite) TestConcurrentMints() {
	svc := s.newService()
	s.Require().NoError(svc.Bootstrap(s.Ctx, Owner))

	const workers = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		capped    atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.MintForPerson(s.Ctx, Alice)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, service.ErrCapExceeded):
				capped.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(5), successes.Load())
	s.Equal(int32(workers-5), capped.Load())

	minted, err := svc.MintedTokens(s.Ctx, Alice)
	s.Require().NoError(err)
	s.Equal(models.Cap(), minted)

	added, err := svc.Events(s.Ctx, models.EventFilter{Kind: models.EventPersonAdded})
	s.Require().NoError(err)
	s.Len(added, 1)
}
