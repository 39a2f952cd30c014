package handler

import (
	"net/http"
	"strconv"

	"github.com/holiman/uint256"

	"ttkn/internal/ledger/models"
	"ttkn/pkg/domain"
	dErrors "ttkn/pkg/domain-errors"
)

type MintRequest struct {
	Recipient string `json:"recipient"`
}

// Parse validates the recipient. The zero address is left to the ledger,
// which rejects it with its own error.
func (r MintRequest) Parse() (domain.Account, error) {
	return domain.ParseAccount(r.Recipient)
}

type OwnerMintRequest struct {
	Recipient string `json:"recipient"`
	// Amount is a decimal count of base units (10^-18 TTKN).
	Amount string `json:"amount"`
}

func (r OwnerMintRequest) Parse() (domain.Account, *uint256.Int, error) {
	recipient, err := domain.ParseAccount(r.Recipient)
	if err != nil {
		return domain.Account{}, nil, err
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return domain.Account{}, nil, err
	}
	return recipient, amount, nil
}

// parseEventFilter reads ?account=&kind=&after=&limit=.
func parseEventFilter(r *http.Request) (models.EventFilter, error) {
	q := r.URL.Query()
	var filter models.EventFilter

	if raw := q.Get("account"); raw != "" {
		account, err := domain.ParseAccount(raw)
		if err != nil {
			return filter, err
		}
		filter.Account = &account
	}
	filter.Kind = models.EventKind(q.Get("kind"))

	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "after must be a non-negative integer")
		}
		filter.AfterSeq = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}
