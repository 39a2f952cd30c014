package service

import (
	"context"

	"github.com/holiman/uint256"

	"ttkn/internal/ledger/models"
	"ttkn/pkg/domain"
)

// BalanceOf returns the balance of account; zero for unknown accounts.
func (s *Service) BalanceOf(ctx context.Context, account domain.Account) (*uint256.Int, error) {
	var balance *uint256.Int
	err := s.view(ctx, "ledger.BalanceOf", account, func(r Reader) error {
		var err error
		balance, err = r.BalanceOf(ctx, account)
		return err
	})
	return balance, err
}

// MintedTokens returns the amount account has received through the public path.
func (s *Service) MintedTokens(ctx context.Context, account domain.Account) (*uint256.Int, error) {
	var minted *uint256.Int
	err := s.view(ctx, "ledger.MintedTokens", account, func(r Reader) error {
		var err error
		minted, err = r.MintedOf(ctx, account)
		return err
	})
	return minted, err
}

// RemainingMintableTokens returns CAP minus minted-to-date, floored at zero.
func (s *Service) RemainingMintableTokens(ctx context.Context, account domain.Account) (*uint256.Int, error) {
	minted, err := s.MintedTokens(ctx, account)
	if err != nil {
		return nil, err
	}
	return models.Remaining(minted), nil
}

// CanMint reports whether a public mint for account would currently succeed.
// The answer is advisory; MintForPerson re-checks atomically.
func (s *Service) CanMint(ctx context.Context, account domain.Account) (bool, error) {
	minted, err := s.MintedTokens(ctx, account)
	if err != nil {
		return false, err
	}
	return models.CanMint(minted), nil
}

// TotalPeople returns the number of distinct public-mint recipients.
func (s *Service) TotalPeople(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.view(ctx, "ledger.TotalPeople", domain.ZeroAccount, func(r Reader) error {
		var err error
		count, err = r.RecipientCount(ctx)
		return err
	})
	return count, err
}

func (s *Service) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	var supply *uint256.Int
	err := s.view(ctx, "ledger.TotalSupply", domain.ZeroAccount, func(r Reader) error {
		var err error
		supply, err = r.TotalSupply(ctx)
		return err
	})
	return supply, err
}

func (s *Service) Owner(ctx context.Context) (domain.Account, error) {
	var owner domain.Account
	err := s.view(ctx, "ledger.Owner", domain.ZeroAccount, func(r Reader) error {
		var err error
		owner, err = r.Owner(ctx)
		return err
	})
	return owner, err
}

// TokenInfo returns token metadata and ledger-wide totals from one snapshot.
func (s *Service) TokenInfo(ctx context.Context) (*models.TokenInfo, error) {
	info := &models.TokenInfo{
		Name:     models.TokenName,
		Symbol:   models.TokenSymbol,
		Decimals: domain.Decimals,
		Cap:      *models.Cap(),
		UnitMint: *models.UnitMint(),
	}
	err := s.view(ctx, "ledger.TokenInfo", domain.ZeroAccount, func(r Reader) error {
		owner, err := r.Owner(ctx)
		if err != nil {
			return err
		}
		supply, err := r.TotalSupply(ctx)
		if err != nil {
			return err
		}
		count, err := r.RecipientCount(ctx)
		if err != nil {
			return err
		}
		info.Owner = owner
		info.TotalSupply = *supply
		info.TotalPeople = count
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// AccountSummary returns balance, minted, remaining and can-mint for account
// from one snapshot, so the four values agree with each other.
func (s *Service) AccountSummary(ctx context.Context, account domain.Account) (*models.AccountSummary, error) {
	summary := &models.AccountSummary{Account: account}
	err := s.view(ctx, "ledger.AccountSummary", account, func(r Reader) error {
		balance, err := r.BalanceOf(ctx, account)
		if err != nil {
			return err
		}
		minted, err := r.MintedOf(ctx, account)
		if err != nil {
			return err
		}
		summary.Balance = *balance
		summary.Minted = *minted
		summary.Remaining = *models.Remaining(minted)
		summary.CanMint = models.CanMint(minted)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Events returns the ledger event trail in sequence order.
func (s *Service) Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	filter.Normalize()
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, ErrInvalidEventKind
	}
	var events []models.Event
	err := s.view(ctx, "ledger.Events", domain.ZeroAccount, func(r Reader) error {
		var err error
		events, err = r.Events(ctx, filter)
		return err
	})
	return events, err
}

func (s *Service) view(ctx context.Context, name string, account domain.Account, fn func(r Reader) error) error {
	ctx, span := s.startSpan(ctx, name, account)
	defer span.End()

	if err := s.store.View(ctx, fn); err != nil {
		recordSpanError(span, err)
		return translate(err, "failed to read ledger state")
	}
	return nil
}
