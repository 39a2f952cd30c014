package service

import (
	"context"
	"time"

	"github.com/holiman/uint256"

	"ttkn/internal/ledger/metrics"
	"ttkn/internal/ledger/models"
	"ttkn/pkg/domain"
	dErrors "ttkn/pkg/domain-errors"
	"ttkn/pkg/platform/audit"
)

// OwnerMint credits amount to recipient on behalf of caller, bypassing the
// cap and the recipient registry. Only the ledger owner may call it; the
// ownership check runs before anything else. A zero amount is accepted and
// changes nothing. No ledger events are appended.
func (s *Service) OwnerMint(ctx context.Context, caller, recipient domain.Account, amount *uint256.Int) (*models.OwnerMintResult, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "ledger.OwnerMint", recipient)
	defer span.End()

	if amount == nil {
		amount = new(uint256.Int)
	}

	result, err := s.ownerMint(ctx, caller, recipient, amount)
	if s.metrics != nil {
		s.metrics.ObserveMint(metrics.PathOwner, outcome(err), start)
	}
	if err != nil {
		recordSpanError(span, err)
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			s.logger.WarnContext(ctx, "owner mint denied",
				"caller", caller.String(),
				"recipient", recipient.String(),
			)
			s.emit(ctx, audit.Event{
				Action:  string(audit.EventOwnerMintDenied),
				Subject: recipient.String(),
				ActorID: caller.String(),
				Reason:  err.Error(),
				Attributes: map[string]string{
					"amount": amount.Dec(),
				},
			})
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AddMinted(metrics.PathOwner, amount)
	}
	s.logger.InfoContext(ctx, "owner mint",
		"caller", caller.String(),
		"recipient", recipient.String(),
		"amount", amount.Dec(),
	)
	return result, nil
}

func (s *Service) ownerMint(ctx context.Context, caller, recipient domain.Account, amount *uint256.Int) (*models.OwnerMintResult, error) {
	var result *models.OwnerMintResult
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		owner, err := tx.Owner(ctx)
		if err != nil {
			return err
		}
		if caller != owner {
			return dErrors.Derive(ErrUnauthorized, "OwnableUnauthorizedAccount(%s)", caller.String())
		}
		if recipient.IsZero() {
			return dErrors.Derive(ErrInvalidAccount, "invalid receiver: zero address")
		}

		balance, err := credit(ctx, tx, recipient, amount)
		if err != nil {
			return err
		}
		supply, err := tx.TotalSupply(ctx)
		if err != nil {
			return err
		}
		result = &models.OwnerMintResult{
			Recipient:   recipient,
			Amount:      *amount,
			Balance:     *balance,
			TotalSupply: *supply,
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to mint tokens")
	}
	return result, nil
}
