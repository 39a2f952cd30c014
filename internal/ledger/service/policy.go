package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ttkn/internal/ledger/metrics"
	"ttkn/internal/ledger/models"
	"ttkn/pkg/domain"
	dErrors "ttkn/pkg/domain-errors"
	"ttkn/pkg/platform/audit"
)

// MintForPerson credits one unit to recipient through the capped public path.
//
// The cap check, credit, minted counter update, recipient registration and
// event append all run in one transition. On success PersonAdded (first mint
// only) precedes TokensMinted in the returned events.
func (s *Service) MintForPerson(ctx context.Context, recipient domain.Account) (*models.MintResult, error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "ledger.MintForPerson", recipient)
	defer span.End()

	result, err := s.mintForPerson(ctx, recipient)
	if s.metrics != nil {
		s.metrics.ObserveMint(metrics.PathPublic, outcome(err), start)
	}
	if err != nil {
		recordSpanError(span, err)
		if dErrors.HasCode(err, dErrors.CodeCapExceeded) {
			s.logger.InfoContext(ctx, "public mint rejected", "recipient", recipient.String(), "reason", err.Error())
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AddMinted(metrics.PathPublic, &result.Amount)
		s.metrics.SetTotalPeople(result.TotalPeople)
	}
	s.logger.InfoContext(ctx, "tokens minted",
		"recipient", recipient.String(),
		"minted_to_date", result.MintedToDate.Dec(),
		"first_mint", result.FirstMint,
		"total_people", result.TotalPeople,
	)
	for _, event := range result.Events {
		s.emit(ctx, toAuditEvent(event))
	}
	return result, nil
}

func (s *Service) mintForPerson(ctx context.Context, recipient domain.Account) (*models.MintResult, error) {
	if recipient.IsZero() {
		return nil, dErrors.Derive(ErrInvalidAccount, "invalid receiver: zero address")
	}

	var result *models.MintResult
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.Owner(ctx); err != nil {
			return err
		}

		minted, err := tx.MintedOf(ctx, recipient)
		if err != nil {
			return err
		}
		next, ok := models.NextMinted(minted)
		if !ok {
			return ErrCapExceeded
		}

		unit := models.UnitMint()
		balance, err := credit(ctx, tx, recipient, unit)
		if err != nil {
			return err
		}
		if err := tx.SetMinted(ctx, recipient, next); err != nil {
			return err
		}

		first, count, err := registerRecipient(ctx, tx, recipient)
		if err != nil {
			return err
		}

		transition := uuid.New()
		at := s.now(ctx)
		pending := make([]models.Event, 0, 2)
		if first {
			pending = append(pending, models.NewPersonAdded(transition, recipient, count, at))
		}
		pending = append(pending, models.NewTokensMinted(transition, recipient, unit, next, at))

		stored, err := tx.AppendEvents(ctx, pending...)
		if err != nil {
			return err
		}

		result = &models.MintResult{
			Recipient:    recipient,
			Amount:       *unit,
			MintedToDate: *next,
			Balance:      *balance,
			FirstMint:    first,
			TotalPeople:  count,
			Events:       stored,
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to mint tokens")
	}
	return result, nil
}

// toAuditEvent mirrors a committed ledger event onto the audit envelope.
func toAuditEvent(e models.Event) audit.Event {
	out := audit.Event{
		Timestamp:    e.Timestamp,
		Subject:      e.Account.String(),
		Seq:          e.Seq,
		TransitionID: e.TransitionID.String(),
	}
	switch e.Kind {
	case models.EventPersonAdded:
		out.Action = string(audit.EventPersonAdded)
		out.Attributes = map[string]string{
			"person_count": strconv.FormatUint(e.PersonCount, 10),
		}
	default:
		out.Action = string(audit.EventTokensMinted)
		out.Attributes = map[string]string{
			"amount":       e.Amount.Dec(),
			"total_minted": e.TotalMinted.Dec(),
		}
	}
	return out
}
