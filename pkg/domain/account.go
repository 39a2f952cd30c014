package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	dErrors "ttkn/pkg/domain-errors"
)

// Account identifies a ledger holder by its 20-byte address.
// Invariant: values built through ParseAccount are well-formed addresses; the
// zero address is representable but rejected as a mint recipient.
//
// Usage: construct via ParseAccount at trust boundaries. The array type keeps
// Account comparable so it can key maps directly.
type Account common.Address

// ZeroAccount is the all-zero address.
var ZeroAccount Account

// ParseAccount validates a hex address with or without the 0x prefix.
//
// Errors: returns CodeInvalidInput for empty, malformed, or mixed-case input
// whose EIP-55 checksum does not match.
func ParseAccount(s string) (Account, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Account{}, dErrors.New(dErrors.CodeInvalidInput, "account cannot be empty")
	}
	if !common.IsHexAddress(s) {
		return Account{}, dErrors.New(dErrors.CodeInvalidInput, "invalid account address")
	}
	addr := common.HexToAddress(s)

	// All-lower and all-upper inputs carry no checksum.
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if addr.Hex()[2:] != body {
			return Account{}, dErrors.New(dErrors.CodeInvalidInput, "invalid account checksum")
		}
	}
	return Account(addr), nil
}

// MustParseAccount is ParseAccount for constants and tests.
func MustParseAccount(s string) Account {
	a, err := ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the EIP-55 checksummed form.
func (a Account) String() string {
	return common.Address(a).Hex()
}

// Key returns the lowercase hex form used as a storage key.
func (a Account) Key() string {
	return strings.ToLower(common.Address(a).Hex())
}

// IsZero reports whether a is the zero address.
func (a Account) IsZero() bool {
	return a == ZeroAccount
}

func (a Account) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Account) UnmarshalText(text []byte) error {
	parsed, err := ParseAccount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
