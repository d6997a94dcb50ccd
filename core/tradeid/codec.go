// Package tradeid converts between trade identifiers and the 128-bit integers
// the escrow contract keys its deposits and claims by.
package tradeid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	// ErrOutOfRange is returned when a ledger integer does not fit in 128 bits.
	ErrOutOfRange = errors.New("tradeid: ledger id exceeds 128 bits")
	// ErrInvalid is returned when a ledger id string cannot be parsed.
	ErrInvalid = errors.New("tradeid: invalid ledger id")
)

// ToLedgerID returns the big-endian integer value of the identifier bytes.
func ToLedgerID(id uuid.UUID) *uint256.Int {
	return new(uint256.Int).SetBytes(id[:])
}

// ToTradeID is the inverse of ToLedgerID. The value is zero-padded to 16 bytes
// so identifiers with leading zero bytes survive the round trip.
func ToTradeID(v *uint256.Int) (uuid.UUID, error) {
	if v == nil {
		return uuid.Nil, ErrInvalid
	}
	if v.BitLen() > 128 {
		return uuid.Nil, ErrOutOfRange
	}
	full := v.Bytes32()
	var id uuid.UUID
	copy(id[:], full[16:])
	return id, nil
}

// FormatLedgerID renders the ledger integer of id in decimal, the form the
// contract events and the signature response carry.
func FormatLedgerID(id uuid.UUID) string {
	return ToLedgerID(id).Dec()
}

// ParseLedgerID decodes a decimal (or 0x-prefixed hex) ledger integer into a
// trade identifier.
func ParseLedgerID(raw string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return uuid.Nil, ErrInvalid
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		v, err = uint256.FromHex("0x" + strings.TrimLeft(trimmed[2:], "0"))
		if err != nil && strings.Trim(trimmed[2:], "0") == "" {
			v, err = new(uint256.Int), nil
		}
	} else {
		v, err = uint256.FromDecimal(trimmed)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return ToTradeID(v)
}
