package models

import "github.com/holiman/uint256"

// Remaining returns CAP - minted, floored at zero.
func Remaining(minted *uint256.Int) *uint256.Int {
	c := Cap()
	if minted.Cmp(c) >= 0 {
		return new(uint256.Int)
	}
	return c.Sub(c, minted)
}

// CanMint reports whether one more unit fits under the cap.
func CanMint(minted *uint256.Int) bool {
	_, ok := NextMinted(minted)
	return ok
}

// NextMinted returns minted + UNIT_MINT. ok is false when the addition
// overflows or the result would exceed the cap.
func NextMinted(minted *uint256.Int) (*uint256.Int, bool) {
	next, overflow := new(uint256.Int).AddOverflow(minted, UnitMint())
	if overflow || next.Cmp(Cap()) > 0 {
		return nil, false
	}
	return next, true
}
