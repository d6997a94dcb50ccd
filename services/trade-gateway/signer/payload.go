package signer

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tradeescrow/core/tradeid"
)

// Kind tags the on-chain operation a signature authorizes.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindRelease  Kind = "release"
	KindReclaim  Kind = "reclaim"
	KindSeize    Kind = "seize"
	KindRent     Kind = "rent"
	KindFee      Kind = "fee"
)

// ParseKind validates a claim kind name.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindDeposit, KindWithdraw, KindRelease, KindReclaim, KindSeize, KindRent, KindFee:
		return k, nil
	default:
		return "", fmt.Errorf("signer: unknown kind %q", raw)
	}
}

// Payload builds the byte sequence the escrow contract verifies:
//
//	kind (ascii) || trade id (u128 LE) || amount (u64 LE) || recipient
//
// For deposits the recipient is the token contract identifier taken as ASCII
// bytes; for claims it is the hex-decoded receiver address.
func Payload(kind Kind, id uuid.UUID, amount uint64, recipient string) ([]byte, error) {
	var tail []byte
	if kind == KindDeposit {
		if recipient == "" {
			return nil, fmt.Errorf("signer: token contract required")
		}
		tail = []byte(recipient)
	} else {
		addr, err := decodeAddress(recipient)
		if err != nil {
			return nil, err
		}
		tail = addr
	}

	buf := make([]byte, 0, len(kind)+16+8+len(tail))
	buf = append(buf, kind...)
	buf = append(buf, u128LE(id)...)
	buf = binary.LittleEndian.AppendUint64(buf, amount)
	buf = append(buf, tail...)
	return buf, nil
}

func u128LE(id uuid.UUID) []byte {
	be := tradeid.ToLedgerID(id).Bytes32()
	out := make([]byte, 16)
	for i := 0; i < 16; i++ {
		out[i] = be[31-i]
	}
	return out
}

func decodeAddress(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("signer: recipient address required")
	}
	if len(trimmed)%2 == 1 {
		trimmed = "0" + trimmed
	}
	addr, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("signer: recipient %q is not hex", raw)
	}
	return addr, nil
}
