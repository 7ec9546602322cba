// Package units converts amounts between the registry's fixed 6-decimal
// precision and the funding asset's on-chain decimals.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// SessionDecimals is the precision used for all limits and usage counters.
const SessionDecimals = 6

// DefaultTokenDecimals is assumed when the funding asset does not report decimals.
const DefaultTokenDecimals = 18

var ErrInvalidAmount = errors.New("invalid amount")

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Rescale converts v from one decimal precision to another. Scaling down
// truncates toward zero.
func Rescale(v *big.Int, from, to uint8) *big.Int {
	out := new(big.Int).Set(v)
	switch {
	case to > from:
		out.Mul(out, pow10(to-from))
	case from > to:
		out.Quo(out, pow10(from-to))
	}
	return out
}

// ToToken converts session micro-units to base units of a token with the given decimals.
func ToToken(micro int64, tokenDecimals uint8) *big.Int {
	return Rescale(big.NewInt(micro), SessionDecimals, tokenDecimals)
}

// FromToken converts token base units to session micro-units. Values that do
// not fit in an int64 are rejected.
func FromToken(v *big.Int, tokenDecimals uint8) (int64, error) {
	if v == nil || v.Sign() < 0 {
		return 0, ErrInvalidAmount
	}
	micro := Rescale(v, tokenDecimals, SessionDecimals)
	if !micro.IsInt64() {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, v)
	}
	return micro.Int64(), nil
}

// Format renders micro-units as a decimal string without trailing zeros.
func Format(micro int64) string {
	neg := micro < 0
	if neg {
		micro = -micro
	}
	whole := micro / 1_000_000
	frac := micro % 1_000_000

	s := fmt.Sprintf("%d", whole)
	if frac != 0 {
		s += "." + strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	}
	if neg {
		s = "-" + s
	}
	return s
}

// Parse reads a decimal string such as "10" or "0.25" into micro-units.
// More than six fractional digits is an error.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && (len(frac) == 0 || len(frac) > SessionDecimals) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", SessionDecimals-len(frac))

	v, ok := new(big.Int).SetString(digits, 10)
	if !ok || v.Sign() < 0 || strings.ContainsAny(digits, "+-") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return v.Int64(), nil
}
