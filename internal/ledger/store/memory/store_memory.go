package memory

import (
	"context"
	"sync"

	"github.com/holiman/uint256"

	"ttkn/internal/ledger/models"
	"ttkn/internal/ledger/service"
	"ttkn/internal/ledger/store"
	"ttkn/pkg/domain"
	"ttkn/pkg/platform/sentinel"
)

// InMemory keeps the ledger in process memory. Transitions hold the write
// lock for their whole duration; views share the read lock.
type InMemory struct {
	mu         sync.RWMutex
	owner      *domain.Account
	supply     uint256.Int
	balances   map[domain.Account]uint256.Int
	minted     map[domain.Account]uint256.Int
	recipients map[domain.Account]struct{}
	events     []models.Event
}

func New() *InMemory {
	return &InMemory{
		balances:   make(map[domain.Account]uint256.Int),
		minted:     make(map[domain.Account]uint256.Int),
		recipients: make(map[domain.Account]struct{}),
	}
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(tx service.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	overlay := store.NewOverlay(snapshot{s}, uint64(len(s.events)))
	if err := fn(overlay); err != nil {
		return err
	}
	s.apply(overlay.Changes())
	return nil
}

func (s *InMemory) View(ctx context.Context, fn func(r service.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(snapshot{s})
}

// apply must be called with the write lock held.
func (s *InMemory) apply(c *store.Changes) {
	if c.Owner != nil {
		owner := *c.Owner
		s.owner = &owner
	}
	if c.Supply != nil {
		s.supply = *c.Supply
	}
	for account, balance := range c.Balances {
		s.balances[account] = *balance
	}
	for account, minted := range c.Minted {
		s.minted[account] = *minted
	}
	for _, account := range c.Recipients {
		s.recipients[account] = struct{}{}
	}
	s.events = append(s.events, c.Events...)
}

// snapshot reads committed state. The caller holds s.mu.
type snapshot struct {
	s *InMemory
}

func (r snapshot) Owner(_ context.Context) (domain.Account, error) {
	if r.s.owner == nil {
		return domain.Account{}, sentinel.ErrNotFound
	}
	return *r.s.owner, nil
}

func (r snapshot) TotalSupply(_ context.Context) (*uint256.Int, error) {
	return r.s.supply.Clone(), nil
}

func (r snapshot) BalanceOf(_ context.Context, account domain.Account) (*uint256.Int, error) {
	v := r.s.balances[account]
	return v.Clone(), nil
}

func (r snapshot) MintedOf(_ context.Context, account domain.Account) (*uint256.Int, error) {
	v := r.s.minted[account]
	return v.Clone(), nil
}

func (r snapshot) IsRecipient(_ context.Context, account domain.Account) (bool, error) {
	_, ok := r.s.recipients[account]
	return ok, nil
}

func (r snapshot) RecipientCount(_ context.Context) (uint64, error) {
	return uint64(len(r.s.recipients)), nil
}

func (r snapshot) Events(_ context.Context, filter models.EventFilter) ([]models.Event, error) {
	filter.Normalize()
	// Seq n lives at index n-1.
	start := len(r.s.events)
	if filter.AfterSeq < uint64(start) {
		start = int(filter.AfterSeq)
	}
	out := make([]models.Event, 0)
	for _, e := range r.s.events[start:] {
		if len(out) >= filter.Limit {
			break
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ service.Store = (*InMemory)(nil)
