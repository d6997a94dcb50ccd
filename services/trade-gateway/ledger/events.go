package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"tradeescrow/core/tradeid"
)

// EventKind distinguishes escrow funding from escrow payouts.
type EventKind string

const (
	KindDeposit EventKind = "DepositEvent"
	KindClaim   EventKind = "ClaimEvent"
)

// Event is one decoded escrow contract event.
type Event struct {
	Kind      EventKind
	TradeID   uuid.UUID
	ClaimType string
	Amount    *uint256.Int
	Sender    string
	Receiver  string
	Token     string
	// Height is the first block of the range the event was fetched from, a
	// lower bound on the block that emitted it. Zero for transaction lookups.
	Height uint64
	TxHash string
}

func (k EventKind) label() string {
	if k == KindClaim {
		return "claim"
	}
	return "deposit"
}

// quantity accepts integers encoded either as JSON numbers or strings, the
// ledger emits u64/u128 as strings.
type quantity string

func (q *quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = quantity(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*q = quantity(n.String())
	return nil
}

type eventData struct {
	ID        quantity `json:"id"`
	Amount    quantity `json:"amount"`
	Sender    string   `json:"sender"`
	Token     string   `json:"token"`
	ClaimType string   `json:"claim_type"`
	Receiver  string   `json:"receiver"`
}

func (d eventData) decode(kind EventKind) (Event, error) {
	id, err := tradeid.ParseLedgerID(string(d.ID))
	if err != nil {
		return Event{}, fmt.Errorf("event id %q: %w", d.ID, err)
	}
	amount := new(uint256.Int)
	if d.Amount != "" {
		if amount, err = uint256.FromDecimal(string(d.Amount)); err != nil {
			return Event{}, fmt.Errorf("event amount %q: %w", d.Amount, err)
		}
	}
	return Event{
		Kind:      kind,
		TradeID:   id,
		ClaimType: strings.ToLower(strings.TrimSpace(d.ClaimType)),
		Amount:    amount,
		Sender:    d.Sender,
		Receiver:  d.Receiver,
		Token:     d.Token,
	}, nil
}

// shortContract renders "0x0001::escrow" as "0x1::escrow", the form the
// ledger uses in transaction event type tags.
func shortContract(contract string) string {
	address, module, found := strings.Cut(contract, "::")
	hexPart := strings.TrimLeft(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(address)), "0x"), "0")
	if hexPart == "" {
		hexPart = "0"
	}
	short := "0x" + hexPart
	if !found {
		return short
	}
	return short + "::" + module
}
