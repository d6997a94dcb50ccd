package engine

import "errors"

var (
	ErrInvalidAction      = errors.New("escrow: invalid action")
	ErrDeadlineNotReached = errors.New("escrow: deadline not reached")
	ErrConflict           = errors.New("escrow: concurrent update conflict")
	ErrNotFound           = errors.New("escrow: not found")
	ErrStaleEvent         = errors.New("escrow: stale ledger event")
	ErrLedgerUnavailable  = errors.New("escrow: ledger unavailable")
	ErrTransactionAbort   = errors.New("escrow: transaction aborted")
	ErrInvalidTransition  = errors.New("escrow: invalid listing transition")
	ErrInvalidRequest     = errors.New("escrow: invalid request")
	ErrForbidden          = errors.New("escrow: forbidden")
)

// Error kinds exposed to callers. They are stable across releases.
const (
	KindInvalidAction      = "invalid_action"
	KindDeadlineNotReached = "deadline_not_reached"
	KindConflict           = "conflict"
	KindNotFound           = "not_found"
	KindStaleEvent         = "stale_event"
	KindLedgerUnavailable  = "ledger_unavailable"
	KindTransactionAbort   = "transaction_abort"
	KindInvalidTransition  = "invalid_transition"
	KindInvalidRequest     = "invalid_request"
	KindForbidden          = "forbidden"
	KindInternal           = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidAction, KindInvalidAction},
	{ErrDeadlineNotReached, KindDeadlineNotReached},
	{ErrConflict, KindConflict},
	{ErrNotFound, KindNotFound},
	{ErrStaleEvent, KindStaleEvent},
	{ErrLedgerUnavailable, KindLedgerUnavailable},
	{ErrTransactionAbort, KindTransactionAbort},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrForbidden, KindForbidden},
}

// Kind classifies err into one of the stable error kinds. Unknown errors are
// reported as internal.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
