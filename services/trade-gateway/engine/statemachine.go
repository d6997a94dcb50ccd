package engine

import (
	"fmt"
	"time"

	"tradeescrow/services/trade-gateway/models"
)

// Role identifies the party performing an action on a trade.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Action is a party's answer at the current step.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
)

// Valid reports whether the action is one of confirm/reject.
func (a Action) Valid() bool {
	return a == ActionConfirm || a == ActionReject
}

const (
	// DepositWindow is how long the seller has to send the item after funding.
	DepositWindow = 2 * time.Hour
	// AcceptWindow is how long the receiving party has to accept a sent item.
	AcceptWindow = 12 * time.Hour
	// ReturnGrace is added to the rental period before the lender may seize.
	ReturnGrace = 24 * time.Hour
	// CreateWindow is the initial deadline given to a created trade.
	CreateWindow = 24 * time.Hour
	week         = 7 * 24 * time.Hour
)

type deadlineRule uint8

const (
	keepDeadline deadlineRule = iota
	acceptDeadline
	rentalDeadline
)

// ListingEffect is the listing transition a trade transition requires.
type ListingEffect struct {
	From models.ListingState
	To   models.ListingState
}

type rule struct {
	next     models.TradeState
	gated    bool
	deadline deadlineRule
	listing  models.ListingState
	rental   bool
}

type key struct {
	state  models.TradeState
	role   Role
	action Action
}

var sellTable = map[key]rule{
	{models.StateDeposited, RoleSeller, ActionConfirm}: {next: models.StateTradeSent, deadline: acceptDeadline},
	{models.StateDeposited, RoleSeller, ActionReject}:  {next: models.StateCanWithdraw, listing: models.ListingCanceled},
	{models.StateDeposited, RoleBuyer, ActionReject}:   {next: models.StateCanWithdraw, gated: true, listing: models.ListingCanceled},
	{models.StateTradeSent, RoleBuyer, ActionConfirm}:  {next: models.StateCanRelease, listing: models.ListingCompleted},
	{models.StateTradeSent, RoleBuyer, ActionReject}:   {next: models.StateDispute1},
	{models.StateTradeSent, RoleSeller, ActionConfirm}: {next: models.StateDispute1, gated: true},
	{models.StateTradeSent, RoleSeller, ActionReject}:  {next: models.StateCanWithdraw, gated: true, listing: models.ListingActive},
}

var lendTable = map[key]rule{
	{models.StateDeposited, RoleSeller, ActionConfirm}:       {next: models.StateTradeSent, deadline: acceptDeadline},
	{models.StateDeposited, RoleSeller, ActionReject}:        {next: models.StateCanWithdraw, listing: models.ListingCanceled},
	{models.StateDeposited, RoleBuyer, ActionReject}:         {next: models.StateCanWithdraw, gated: true, listing: models.ListingCanceled},
	{models.StateTradeSent, RoleBuyer, ActionConfirm}:        {next: models.StatePeriodStarted, deadline: rentalDeadline, rental: true},
	{models.StateTradeSent, RoleBuyer, ActionReject}:         {next: models.StateDispute1},
	{models.StateTradeSent, RoleSeller, ActionConfirm}:       {next: models.StateDispute1, gated: true},
	{models.StateTradeSent, RoleSeller, ActionReject}:        {next: models.StateCanWithdraw, gated: true, listing: models.ListingActive},
	{models.StatePeriodStarted, RoleBuyer, ActionConfirm}:    {next: models.StateReturnTradeSent, deadline: acceptDeadline},
	{models.StatePeriodStarted, RoleSeller, ActionConfirm}:   {next: models.StateCanSeize, gated: true, listing: models.ListingCanceled},
	{models.StateReturnTradeSent, RoleSeller, ActionConfirm}: {next: models.StateCanReclaim, listing: models.ListingCompleted},
	{models.StateReturnTradeSent, RoleSeller, ActionReject}:  {next: models.StateDispute2},
	{models.StateReturnTradeSent, RoleBuyer, ActionConfirm}:  {next: models.StateDispute2, gated: true},
}

func table(t models.TradeType) map[key]rule {
	switch t {
	case models.TradeTypeSell:
		return sellTable
	case models.TradeTypeLend:
		return lendTable
	default:
		return nil
	}
}

// Transition is the outcome of a legal user action.
type Transition struct {
	From          models.TradeState
	To            models.TradeState
	Initiator     string
	Deadline      time.Time
	StartRental   bool
	FeeClaimable  bool
	Listing       *ListingEffect
	DeadlineReset bool
}

// Legal reports whether (type, state, role, action) appears in the transition
// table, ignoring deadlines.
func Legal(t models.TradeType, state models.TradeState, role Role, action Action) bool {
	_, ok := table(t)[key{state, role, action}]
	return ok
}

// Apply validates the action against the trade's type, state, role and
// deadline and returns the resulting transition. It never mutates the trade.
func Apply(trade *models.Trade, role Role, action Action, now time.Time) (*Transition, error) {
	if trade == nil {
		return nil, fmt.Errorf("%w: nil trade", ErrNotFound)
	}
	r, ok := table(trade.Type)[key{trade.State, role, action}]
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot %s a %s trade in state %s", ErrInvalidAction, role, action, trade.Type, trade.State)
	}
	if r.gated && now.Before(trade.Deadline) {
		return nil, fmt.Errorf("%w: deadline %s", ErrDeadlineNotReached, trade.Deadline.UTC().Format(time.RFC3339))
	}
	tr := &Transition{
		From:      trade.State,
		To:        r.next,
		Initiator: string(role),
		Deadline:  trade.Deadline,
	}
	switch r.deadline {
	case acceptDeadline:
		tr.Deadline = now.Add(AcceptWindow)
		tr.DeadlineReset = true
	case rentalDeadline:
		if trade.Weeks <= 0 {
			return nil, fmt.Errorf("%w: lend trade without rental weeks", ErrInvalidAction)
		}
		tr.Deadline = now.Add(time.Duration(trade.Weeks)*week + ReturnGrace)
		tr.DeadlineReset = true
	}
	if r.rental {
		tr.StartRental = true
		tr.FeeClaimable = trade.Fee > 0
	}
	if r.listing != "" {
		tr.Listing = &ListingEffect{From: models.ListingOngoing, To: r.listing}
	}
	return tr, nil
}
