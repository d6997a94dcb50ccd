package engine

import (
	"fmt"

	"tradeescrow/services/trade-gateway/models"
)

// ReleaseTo names the party an arbiter decides in favour of.
type ReleaseTo string

const (
	ReleaseToBuyer  ReleaseTo = "buyer"
	ReleaseToSeller ReleaseTo = "seller"
)

// Valid reports whether the value names a trade party.
func (r ReleaseTo) Valid() bool {
	return r == ReleaseToBuyer || r == ReleaseToSeller
}

type disputeKey struct {
	tradeType models.TradeType
	state     models.TradeState
	to        ReleaseTo
}

// dispute2 never occurs on sell trades; the table leaves it unresolvable.
var disputeTable = map[disputeKey]models.TradeState{
	{models.TradeTypeSell, models.StateDispute1, ReleaseToBuyer}:  models.StateCanWithdraw,
	{models.TradeTypeSell, models.StateDispute1, ReleaseToSeller}: models.StateCanRelease,
	{models.TradeTypeLend, models.StateDispute1, ReleaseToBuyer}:  models.StateCanWithdraw,
	{models.TradeTypeLend, models.StateDispute1, ReleaseToSeller}: models.StateCanRelease,
	{models.TradeTypeLend, models.StateDispute2, ReleaseToBuyer}:  models.StateCanReclaim,
	{models.TradeTypeLend, models.StateDispute2, ReleaseToSeller}: models.StateCanSeize,
}

// Resolve returns the claim-eligible state an arbiter decision moves a
// disputed trade to.
func Resolve(trade *models.Trade, to ReleaseTo) (models.TradeState, error) {
	if trade == nil {
		return "", fmt.Errorf("%w: nil trade", ErrNotFound)
	}
	if !to.Valid() {
		return "", fmt.Errorf("%w: release target %q", ErrInvalidRequest, to)
	}
	next, ok := disputeTable[disputeKey{trade.Type, trade.State, to}]
	if !ok {
		return "", fmt.Errorf("%w: %s trade in state %s is not resolvable", ErrInvalidAction, trade.Type, trade.State)
	}
	return next, nil
}
