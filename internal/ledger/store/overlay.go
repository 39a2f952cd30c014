// Package store holds the pieces shared by the ledger store backends.
//
// Backends that cannot read their own uncommitted writes (memory, redis)
// run a transition against an Overlay: reads fall through to the committed
// state unless the transition staged a value, and the backend applies
// Changes atomically once the transition returns nil.
package store

import (
	"context"

	"github.com/holiman/uint256"

	"ttkn/internal/ledger/models"
	"ttkn/internal/ledger/service"
	"ttkn/pkg/domain"
)

// Changes is the write set staged by one transition.
type Changes struct {
	Owner    *domain.Account
	Supply   *uint256.Int
	Balances map[domain.Account]*uint256.Int
	Minted   map[domain.Account]*uint256.Int
	// Recipients lists newly added recipients in insertion order.
	Recipients []domain.Account
	// Events carry their assigned sequence numbers.
	Events []models.Event
}

// Empty reports whether the transition staged nothing.
func (c *Changes) Empty() bool {
	return c.Owner == nil && c.Supply == nil && len(c.Balances) == 0 &&
		len(c.Minted) == 0 && len(c.Recipients) == 0 && len(c.Events) == 0
}

// Overlay implements service.Tx over a committed snapshot.
type Overlay struct {
	base    service.Reader
	lastSeq uint64
	changes Changes
	added   map[domain.Account]struct{}
}

// NewOverlay stages writes over base. lastSeq is the highest committed event
// sequence number; appended events continue from it.
func NewOverlay(base service.Reader, lastSeq uint64) *Overlay {
	return &Overlay{
		base:    base,
		lastSeq: lastSeq,
		changes: Changes{
			Balances: make(map[domain.Account]*uint256.Int),
			Minted:   make(map[domain.Account]*uint256.Int),
		},
		added: make(map[domain.Account]struct{}),
	}
}

// Changes returns the staged write set.
func (o *Overlay) Changes() *Changes {
	return &o.changes
}

func (o *Overlay) Owner(ctx context.Context) (domain.Account, error) {
	if o.changes.Owner != nil {
		return *o.changes.Owner, nil
	}
	return o.base.Owner(ctx)
}

func (o *Overlay) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	if o.changes.Supply != nil {
		return o.changes.Supply.Clone(), nil
	}
	return o.base.TotalSupply(ctx)
}

func (o *Overlay) BalanceOf(ctx context.Context, account domain.Account) (*uint256.Int, error) {
	if v, ok := o.changes.Balances[account]; ok {
		return v.Clone(), nil
	}
	return o.base.BalanceOf(ctx, account)
}

func (o *Overlay) MintedOf(ctx context.Context, account domain.Account) (*uint256.Int, error) {
	if v, ok := o.changes.Minted[account]; ok {
		return v.Clone(), nil
	}
	return o.base.MintedOf(ctx, account)
}

func (o *Overlay) IsRecipient(ctx context.Context, account domain.Account) (bool, error) {
	if _, ok := o.added[account]; ok {
		return true, nil
	}
	return o.base.IsRecipient(ctx, account)
}

func (o *Overlay) RecipientCount(ctx context.Context) (uint64, error) {
	n, err := o.base.RecipientCount(ctx)
	if err != nil {
		return 0, err
	}
	return n + uint64(len(o.changes.Recipients)), nil
}

func (o *Overlay) Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	filter.Normalize()
	events, err := o.base.Events(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, e := range o.changes.Events {
		if len(events) >= filter.Limit {
			break
		}
		if filter.Matches(e) {
			events = append(events, e)
		}
	}
	return events, nil
}

func (o *Overlay) SetOwner(_ context.Context, owner domain.Account) error {
	o.changes.Owner = &owner
	return nil
}

func (o *Overlay) SetTotalSupply(_ context.Context, supply *uint256.Int) error {
	o.changes.Supply = supply.Clone()
	return nil
}

func (o *Overlay) SetBalance(_ context.Context, account domain.Account, balance *uint256.Int) error {
	o.changes.Balances[account] = balance.Clone()
	return nil
}

func (o *Overlay) SetMinted(_ context.Context, account domain.Account, minted *uint256.Int) error {
	o.changes.Minted[account] = minted.Clone()
	return nil
}

// AddRecipient is a no-op for accounts already in the set.
func (o *Overlay) AddRecipient(ctx context.Context, account domain.Account) error {
	seen, err := o.IsRecipient(ctx, account)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	o.added[account] = struct{}{}
	o.changes.Recipients = append(o.changes.Recipients, account)
	return nil
}

func (o *Overlay) AppendEvents(_ context.Context, events ...models.Event) ([]models.Event, error) {
	stored := make([]models.Event, 0, len(events))
	for _, e := range events {
		o.lastSeq++
		e.Seq = o.lastSeq
		o.changes.Events = append(o.changes.Events, e)
		stored = append(stored, e)
	}
	return stored, nil
}

var _ service.Tx = (*Overlay)(nil)
