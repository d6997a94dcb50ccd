// Package units converts prices held in currency cents into integer token
// amounts in the token's smallest unit.
package units

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxDecimals bounds the token precision accepted for conversion.
const MaxDecimals = 36

var (
	ErrNegativeAmount = errors.New("units: amount must be non-negative")
	ErrDecimals       = errors.New("units: unsupported token decimals")
	ErrOverflow       = errors.New("units: token amount exceeds u64")
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// CentsToToken converts cents (1/100 of the quote currency) into base units of
// a token with the given decimals. Fractions of a base unit are dropped, never
// rounded up, so a signature never authorises more than the price.
func CentsToToken(cents int64, decimals int) (uint64, error) {
	if cents < 0 {
		return 0, ErrNegativeAmount
	}
	if decimals < 0 || decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: %d", ErrDecimals, decimals)
	}
	amount := decimal.New(cents, -2).Shift(int32(decimals)).Floor()
	if amount.GreaterThan(maxUint64) {
		return 0, ErrOverflow
	}
	return amount.BigInt().Uint64(), nil
}
