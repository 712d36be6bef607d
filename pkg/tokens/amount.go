package tokens

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// maxUint256Digits is the decimal length of the largest uint256.
const maxUint256Digits = 78

// ToBaseUnits scales a human amount by 10^decimals. Fractions finer than one base
// unit are rejected rather than rounded.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*uint256.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	if amount.IsZero() {
		return new(uint256.Int), nil
	}
	// Bound the scaled exponent before Shift so "1e99999999" never expands.
	digits := int64(len(amount.Coefficient().String()))
	exp := int64(amount.Exponent()) + int64(decimals)
	if exp > 0 && digits+exp > maxUint256Digits {
		return nil, fmt.Errorf("%w: exceeds uint256", ErrInvalidAmount)
	}
	if exp < 0 && -exp >= digits {
		return nil, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, decimals)
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, decimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: exceeds uint256", ErrInvalidAmount)
	}
	return out, nil
}

// FromBaseUnits converts base units into a human amount.
func FromBaseUnits(amount *uint256.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -decimals)
}

// ParseAmount reads either a human decimal ("12.5") or raw base units with an
// "wei:" prefix ("wei:12500000").
func ParseAmount(s string, decimals int32) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if raw, ok := strings.CutPrefix(s, "wei:"); ok {
		v, err := uint256.FromDecimal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return ToBaseUnits(d, decimals)
}

// FormatAmount renders base units as a human decimal string without trailing zeros.
func FormatAmount(amount *uint256.Int, decimals int32) string {
	return FromBaseUnits(amount, decimals).String()
}
