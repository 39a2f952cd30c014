package service

import (
	"context"

	"github.com/holiman/uint256"

	"ttkn/pkg/domain"
)

// credit adds amount to account's balance and to the total supply. Both sums
// are checked before either is staged, so an overflow leaves the transition
// untouched. Returns the new balance.
func credit(ctx context.Context, tx Tx, account domain.Account, amount *uint256.Int) (*uint256.Int, error) {
	balance, err := tx.BalanceOf(ctx, account)
	if err != nil {
		return nil, err
	}
	supply, err := tx.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}

	newBalance, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return nil, ErrOverflow
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return nil, ErrOverflow
	}

	if err := tx.SetBalance(ctx, account, newBalance); err != nil {
		return nil, err
	}
	if err := tx.SetTotalSupply(ctx, newSupply); err != nil {
		return nil, err
	}
	return newBalance, nil
}
