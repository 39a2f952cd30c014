package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"ttkn/internal/ledger/models"
	"ttkn/pkg/domain"
	audit "ttkn/pkg/platform/audit"
)

// Amount carries base units as a decimal string, since JSON numbers cannot
// hold 256-bit values, plus the same value in whole tokens.
type Amount struct {
	Value     string `json:"value"`
	Formatted string `json:"formatted"`
}

func toAmount(v *uint256.Int) Amount {
	if v == nil {
		v = new(uint256.Int)
	}
	return Amount{Value: v.Dec(), Formatted: domain.FormatUnits(v)}
}

type TokenInfoResponse struct {
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply Amount         `json:"total_supply"`
	Owner       domain.Account `json:"owner"`
	Cap         Amount         `json:"cap"`
	UnitMint    Amount         `json:"unit_mint"`
	TotalPeople uint64         `json:"total_people"`
}

func toTokenInfoResponse(info *models.TokenInfo) TokenInfoResponse {
	return TokenInfoResponse{
		Name:        info.Name,
		Symbol:      info.Symbol,
		Decimals:    info.Decimals,
		TotalSupply: toAmount(&info.TotalSupply),
		Owner:       info.Owner,
		Cap:         toAmount(&info.Cap),
		UnitMint:    toAmount(&info.UnitMint),
		TotalPeople: info.TotalPeople,
	}
}

type AccountSummaryResponse struct {
	Account   domain.Account `json:"account"`
	Balance   Amount         `json:"balance"`
	Minted    Amount         `json:"minted"`
	Remaining Amount         `json:"remaining"`
	CanMint   bool           `json:"can_mint"`
}

func toAccountSummaryResponse(s *models.AccountSummary) AccountSummaryResponse {
	return AccountSummaryResponse{
		Account:   s.Account,
		Balance:   toAmount(&s.Balance),
		Minted:    toAmount(&s.Minted),
		Remaining: toAmount(&s.Remaining),
		CanMint:   s.CanMint,
	}
}

type CanMintResponse struct {
	Account domain.Account `json:"account"`
	CanMint bool           `json:"can_mint"`
}

type PeopleCountResponse struct {
	TotalPeople uint64 `json:"total_people"`
}

type MintResponse struct {
	Recipient    domain.Account  `json:"recipient"`
	Amount       Amount          `json:"amount"`
	MintedToDate Amount          `json:"minted_to_date"`
	Balance      Amount          `json:"balance"`
	FirstMint    bool            `json:"first_mint"`
	TotalPeople  uint64          `json:"total_people"`
	Events       []EventResponse `json:"events"`
}

func toMintResponse(r *models.MintResult) MintResponse {
	events := make([]EventResponse, 0, len(r.Events))
	for _, e := range r.Events {
		events = append(events, toEventResponse(e))
	}
	return MintResponse{
		Recipient:    r.Recipient,
		Amount:       toAmount(&r.Amount),
		MintedToDate: toAmount(&r.MintedToDate),
		Balance:      toAmount(&r.Balance),
		FirstMint:    r.FirstMint,
		TotalPeople:  r.TotalPeople,
		Events:       events,
	}
}

type OwnerMintResponse struct {
	Recipient   domain.Account `json:"recipient"`
	Amount      Amount         `json:"amount"`
	Balance     Amount         `json:"balance"`
	TotalSupply Amount         `json:"total_supply"`
}

func toOwnerMintResponse(r *models.OwnerMintResult) OwnerMintResponse {
	return OwnerMintResponse{
		Recipient:   r.Recipient,
		Amount:      toAmount(&r.Amount),
		Balance:     toAmount(&r.Balance),
		TotalSupply: toAmount(&r.TotalSupply),
	}
}

// EventResponse mirrors the contract events: TokensMinted(to, amount,
// totalMinted) and PersonAdded(person, personCount).
type EventResponse struct {
	Seq          uint64           `json:"seq"`
	TransitionID uuid.UUID        `json:"transition_id"`
	Kind         models.EventKind `json:"kind"`
	Account      domain.Account   `json:"account"`
	Amount       *Amount          `json:"amount,omitempty"`
	TotalMinted  *Amount          `json:"total_minted,omitempty"`
	PersonCount  *uint64          `json:"person_count,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

func toEventResponse(e models.Event) EventResponse {
	resp := EventResponse{
		Seq:          e.Seq,
		TransitionID: e.TransitionID,
		Kind:         e.Kind,
		Account:      e.Account,
		Timestamp:    e.Timestamp,
	}
	switch e.Kind {
	case models.EventTokensMinted:
		amount, total := toAmount(&e.Amount), toAmount(&e.TotalMinted)
		resp.Amount, resp.TotalMinted = &amount, &total
	case models.EventPersonAdded:
		count := e.PersonCount
		resp.PersonCount = &count
	}
	return resp
}

type EventsResponse struct {
	Events []EventResponse `json:"events"`
	// NextAfter is the cursor for the following page.
	NextAfter uint64 `json:"next_after"`
}

func toEventsResponse(events []models.Event, after uint64) EventsResponse {
	resp := EventsResponse{Events: make([]EventResponse, 0, len(events)), NextAfter: after}
	for _, e := range events {
		resp.Events = append(resp.Events, toEventResponse(e))
		resp.NextAfter = e.Seq
	}
	return resp
}

type AuditEventResponse struct {
	ID           uuid.UUID         `json:"id"`
	Category     string            `json:"category"`
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	Subject      string            `json:"subject"`
	ActorID      string            `json:"actor_id,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Seq          uint64            `json:"seq,omitempty"`
	TransitionID string            `json:"transition_id,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

type AuditLogResponse struct {
	Events []AuditEventResponse `json:"events"`
}

func toAuditLogResponse(events []audit.Event) AuditLogResponse {
	resp := AuditLogResponse{Events: make([]AuditEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, AuditEventResponse{
			ID:           e.ID,
			Category:     string(e.Category),
			Timestamp:    e.Timestamp,
			Action:       e.Action,
			Subject:      e.Subject,
			ActorID:      e.ActorID,
			RequestID:    e.RequestID,
			Reason:       e.Reason,
			Seq:          e.Seq,
			TransitionID: e.TransitionID,
			Attributes:   e.Attributes,
		})
	}
	return resp
}
