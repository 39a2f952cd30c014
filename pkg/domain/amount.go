package domain

import (
	"strings"

	"github.com/holiman/uint256"

	dErrors "ttkn/pkg/domain-errors"
)

// Decimals is the number of fractional decimal digits of one whole token.
const Decimals = 18

// maxAmountDigits is len(2^256-1) in base 10.
const maxAmountDigits = 78

var baseUnit = uint256.NewInt(1_000_000_000_000_000_000)

// Tokens returns n whole tokens expressed in base units. It cannot overflow:
// 2^64 * 10^18 is far below 2^256.
func Tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), baseUnit)
}

// ParseAmount parses a non-negative decimal count of base units.
//
// Errors: returns CodeInvalidInput for empty input, signs, non-digits, or
// values that do not fit in 256 bits.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "amount cannot be empty")
	}
	if len(s) > maxAmountDigits {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "amount out of range")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal count of base units")
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "amount out of range")
	}
	return v, nil
}

// FormatUnits renders base units as a decimal token string with trailing
// fractional zeros removed ("4", "0.5", "1.000000000000000001").
func FormatUnits(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	whole := new(uint256.Int).Div(v, baseUnit)
	frac := new(uint256.Int).Mod(v, baseUnit)
	if frac.IsZero() {
		return whole.Dec()
	}
	fs := frac.Dec()
	fs = strings.Repeat("0", Decimals-len(fs)) + fs
	return whole.Dec() + "." + strings.TrimRight(fs, "0")
}
