package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Store,Reader,Tx,AuditPublisher

import (
	"context"

	"github.com/holiman/uint256"

	"ttkn/internal/ledger/models"
	"ttkn/pkg/domain"
	"ttkn/pkg/platform/audit"
)

// Reader exposes ledger state. Within View and RunInTx every read observes a
// single consistent state; inside RunInTx reads also see the transition's own
// staged writes.
type Reader interface {
	// Owner returns sentinel.ErrNotFound until the ledger is initialized.
	Owner(ctx context.Context) (domain.Account, error)
	TotalSupply(ctx context.Context) (*uint256.Int, error)
	BalanceOf(ctx context.Context, account domain.Account) (*uint256.Int, error)
	MintedOf(ctx context.Context, account domain.Account) (*uint256.Int, error)
	IsRecipient(ctx context.Context, account domain.Account) (bool, error)
	RecipientCount(ctx context.Context) (uint64, error)
	Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
}

// Tx is a Reader that can stage writes for one transition.
type Tx interface {
	Reader
	SetOwner(ctx context.Context, owner domain.Account) error
	SetTotalSupply(ctx context.Context, supply *uint256.Int) error
	SetBalance(ctx context.Context, account domain.Account, balance *uint256.Int) error
	SetMinted(ctx context.Context, account domain.Account, minted *uint256.Int) error
	AddRecipient(ctx context.Context, account domain.Account) error
	// AppendEvents assigns sequence numbers and returns the stored events.
	AppendEvents(ctx context.Context, events ...models.Event) ([]models.Event, error)
}

// Store serializes transitions. RunInTx commits every staged write when fn
// returns nil and discards all of them otherwise; transitions are totally
// ordered with respect to each other. View runs fn against a snapshot.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(r Reader) error) error
}

// AuditPublisher fans committed events out to external observers.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
