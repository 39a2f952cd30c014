package service

import (
	"context"

	"ttkn/pkg/domain"
)

// registerRecipient adds account to the recipient set if it is not already
// there. Membership check and insert run on the same Tx as the credit, so two
// concurrent first mints cannot both report first.
func registerRecipient(ctx context.Context, tx Tx, account domain.Account) (first bool, count uint64, err error) {
	seen, err := tx.IsRecipient(ctx, account)
	if err != nil {
		return false, 0, err
	}
	if !seen {
		if err := tx.AddRecipient(ctx, account); err != nil {
			return false, 0, err
		}
	}
	count, err = tx.RecipientCount(ctx)
	if err != nil {
		return false, 0, err
	}
	return !seen, count, nil
}
