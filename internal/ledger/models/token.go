package models

import (
	"github.com/holiman/uint256"

	"ttkn/pkg/domain"
)

// Token metadata. Fixed for the lifetime of the ledger.
const (
	TokenName   = "TTKN Token"
	TokenSymbol = "TTKN"
)

const (
	unitMintTokens      = 1
	capTokens           = 5
	initialSupplyTokens = 1000
)

// UnitMint is the amount credited by one public mint (1 token).
func UnitMint() *uint256.Int { return domain.Tokens(unitMintTokens) }

// Cap is the lifetime public-mint allowance per account (5 tokens).
func Cap() *uint256.Int { return domain.Tokens(capTokens) }

// InitialSupply is credited to the owner when the ledger is created (1000 tokens).
func InitialSupply() *uint256.Int { return domain.Tokens(initialSupplyTokens) }

// TokenInfo is the ledger-wide metadata view.
type TokenInfo struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply uint256.Int
	Owner       domain.Account
	Cap         uint256.Int
	UnitMint    uint256.Int
	TotalPeople uint64
}

// AccountSummary collects every per-account read from a single snapshot.
type AccountSummary struct {
	Account   domain.Account
	Balance   uint256.Int
	Minted    uint256.Int
	Remaining uint256.Int
	CanMint   bool
}

// MintResult describes a successful public mint.
type MintResult struct {
	Recipient    domain.Account
	Amount       uint256.Int
	MintedToDate uint256.Int
	Balance      uint256.Int
	// FirstMint is true when this call added the recipient to the recipient set.
	FirstMint   bool
	TotalPeople uint64
	Events      []Event
}

// OwnerMintResult describes a successful privileged mint.
type OwnerMintResult struct {
	Recipient   domain.Account
	Amount      uint256.Int
	Balance     uint256.Int
	TotalSupply uint256.Int
}
