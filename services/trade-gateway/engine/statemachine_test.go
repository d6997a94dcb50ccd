package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tradeescrow/services/trade-gateway/models"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTrade(tt models.TradeType, state models.TradeState, deadline time.Time) *models.Trade {
	return &models.Trade{
		ID:        uuid.New(),
		ListingID: uuid.New(),
		Buyer:     "buyer-1",
		Seller:    "seller-1",
		Type:      tt,
		State:     state,
		Deadline:  deadline,
		Weeks:     2,
		Rent:      2000,
		Fee:       100,
	}
}

func TestApplyRejectsEveryCombinationOutsideTheTable(t *testing.T) {
	roles := []Role{RoleBuyer, RoleSeller}
	actions := []Action{ActionConfirm, ActionReject}
	for _, tt := range []models.TradeType{models.TradeTypeSell, models.TradeTypeLend} {
		for _, state := range models.AllTradeStates {
			for _, role := range roles {
				for _, action := range actions {
					trade := newTrade(tt, state, testNow.Add(-time.Hour))
					tr, err := Apply(trade, role, action, testNow)
					if Legal(tt, state, role, action) {
						require.NoError(t, err, "%s %s %s %s", tt, state, role, action)
						require.NotNil(t, tr)
						continue
					}
					require.ErrorIs(t, err, ErrInvalidAction, "%s %s %s %s", tt, state, role, action)
					require.Nil(t, tr)
				}
			}
		}
	}
}

func TestApplyUnknownTradeType(t *testing.T) {
	trade := newTrade(models.TradeType("swap"), models.StateDeposited, testNow)
	_, err := Apply(trade, RoleSeller, ActionConfirm, testNow)
	require.ErrorIs(t, err, ErrInvalidAction)
}

func TestApplyTerminalAndDisputeStatesAreClosed(t *testing.T) {
	for _, state := range models.AllTradeStates {
		if !state.Terminal() && !state.Disputed() {
			continue
		}
		for _, tt := range []models.TradeType{models.TradeTypeSell, models.TradeTypeLend} {
			require.False(t, Legal(tt, state, RoleBuyer, ActionConfirm))
			require.False(t, Legal(tt, state, RoleBuyer, ActionReject))
			require.False(t, Legal(tt, state, RoleSeller, ActionConfirm))
			require.False(t, Legal(tt, state, RoleSeller, ActionReject))
		}
	}
}

func TestSellTransitions(t *testing.T) {
	cases := []struct {
		name    string
		state   models.TradeState
		role    Role
		action  Action
		next    models.TradeState
		listing models.ListingState
		reset   bool
	}{
		{"seller sends item", models.StateDeposited, RoleSeller, ActionConfirm, models.StateTradeSent, "", true},
		{"seller cancels", models.StateDeposited, RoleSeller, ActionReject, models.StateCanWithdraw, models.ListingCanceled, false},
		{"buyer withdraws after deadline", models.StateDeposited, RoleBuyer, ActionReject, models.StateCanWithdraw, models.ListingCanceled, false},
		{"buyer accepts", models.StateTradeSent, RoleBuyer, ActionConfirm, models.StateCanRelease, models.ListingCompleted, false},
		{"buyer disputes", models.StateTradeSent, RoleBuyer, ActionReject, models.StateDispute1, "", false},
		{"seller escalates", models.StateTradeSent, RoleSeller, ActionConfirm, models.StateDispute1, "", false},
		{"seller gives up", models.StateTradeSent, RoleSeller, ActionReject, models.StateCanWithdraw, models.ListingActive, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trade := newTrade(models.TradeTypeSell, tc.state, testNow)
			tr, err := Apply(trade, tc.role, tc.action, testNow)
			require.NoError(t, err)
			require.Equal(t, tc.next, tr.To)
			require.Equal(t, tc.state, tr.From)
			require.Equal(t, string(tc.role), tr.Initiator)
			require.Equal(t, tc.reset, tr.DeadlineReset)
			if tc.reset {
				require.Equal(t, testNow.Add(AcceptWindow), tr.Deadline)
			} else {
				require.Equal(t, trade.Deadline, tr.Deadline)
			}
			if tc.listing == "" {
				require.Nil(t, tr.Listing)
			} else {
				require.NotNil(t, tr.Listing)
				require.Equal(t, models.ListingOngoing, tr.Listing.From)
				require.Equal(t, tc.listing, tr.Listing.To)
			}
			require.False(t, tr.StartRental)
		})
	}
}

func TestApplyDoesNotMutateTrade(t *testing.T) {
	trade := newTrade(models.TradeTypeSell, models.StateDeposited, testNow)
	snapshot := *trade
	_, err := Apply(trade, RoleSeller, ActionConfirm, testNow)
	require.NoError(t, err)
	require.Equal(t, snapshot, *trade)
}

func TestDeadlineGatedTransitions(t *testing.T) {
	gated := []struct {
		tt     models.TradeType
		state  models.TradeState
		role   Role
		action Action
	}{
		{models.TradeTypeSell, models.StateDeposited, RoleBuyer, ActionReject},
		{models.TradeTypeSell, models.StateTradeSent, RoleSeller, ActionConfirm},
		{models.TradeTypeSell, models.StateTradeSent, RoleSeller, ActionReject},
		{models.TradeTypeLend, models.StateDeposited, RoleBuyer, ActionReject},
		{models.TradeTypeLend, models.StateTradeSent, RoleSeller, ActionConfirm},
		{models.TradeTypeLend, models.StateTradeSent, RoleSeller, ActionReject},
		{models.TradeTypeLend, models.StatePeriodStarted, RoleSeller, ActionConfirm},
		{models.TradeTypeLend, models.StateReturnTradeSent, RoleBuyer, ActionConfirm},
	}
	for _, g := range gated {
		deadline := testNow
		trade := newTrade(g.tt, g.state, deadline)

		_, err := Apply(trade, g.role, g.action, deadline.Add(-time.Second))
		require.ErrorIs(t, err, ErrDeadlineNotReached, "%s %s %s %s", g.tt, g.state, g.role, g.action)

		_, err = Apply(trade, g.role, g.action, deadline)
		require.NoError(t, err, "%s %s %s %s", g.tt, g.state, g.role, g.action)
	}
}

func TestUngatedTransitionsIgnoreDeadline(t *testing.T) {
	trade := newTrade(models.TradeTypeSell, models.StateTradeSent, testNow.Add(time.Hour))
	tr, err := Apply(trade, RoleBuyer, ActionConfirm, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StateCanRelease, tr.To)
}

func TestLendRentalStart(t *testing.T) {
	trade := newTrade(models.TradeTypeLend, models.StateTradeSent, testNow)
	tr, err := Apply(trade, RoleBuyer, ActionConfirm, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StatePeriodStarted, tr.To)
	require.True(t, tr.StartRental)
	require.True(t, tr.FeeClaimable)
	require.Equal(t, testNow.Add(2*7*24*time.Hour+24*time.Hour), tr.Deadline)
	require.Nil(t, tr.Listing)

	trade.Fee = 0
	tr, err = Apply(trade, RoleBuyer, ActionConfirm, testNow)
	require.NoError(t, err)
	require.True(t, tr.StartRental)
	require.False(t, tr.FeeClaimable)

	trade.Weeks = 0
	_, err = Apply(trade, RoleBuyer, ActionConfirm, testNow)
	require.ErrorIs(t, err, ErrInvalidAction)
}

func TestLendReturnLeg(t *testing.T) {
	trade := newTrade(models.TradeTypeLend, models.StatePeriodStarted, testNow.Add(time.Hour))
	tr, err := Apply(trade, RoleBuyer, ActionConfirm, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StateReturnTradeSent, tr.To)
	require.Equal(t, testNow.Add(AcceptWindow), tr.Deadline)

	_, err = Apply(trade, RoleBuyer, ActionReject, testNow)
	require.ErrorIs(t, err, ErrInvalidAction)

	returned := newTrade(models.TradeTypeLend, models.StateReturnTradeSent, testNow.Add(time.Hour))
	tr, err = Apply(returned, RoleSeller, ActionConfirm, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StateCanReclaim, tr.To)
	require.Equal(t, models.ListingCompleted, tr.Listing.To)

	tr, err = Apply(returned, RoleSeller, ActionReject, testNow)
	require.NoError(t, err)
	require.Equal(t, models.StateDispute2, tr.To)
	require.Nil(t, tr.Listing)
}

func TestLendTimeoutSeize(t *testing.T) {
	start := testNow
	trade := newTrade(models.TradeTypeLend, models.StateTradeSent, start)
	tr, err := Apply(trade, RoleBuyer, ActionConfirm, start)
	require.NoError(t, err)
	trade.State = tr.To
	trade.Deadline = tr.Deadline
	d := tr.Deadline

	_, err = Apply(trade, RoleSeller, ActionConfirm, d.Add(-time.Second))
	require.ErrorIs(t, err, ErrDeadlineNotReached)

	tr, err = Apply(trade, RoleSeller, ActionConfirm, d)
	require.NoError(t, err)
	require.Equal(t, models.StateCanSeize, tr.To)
	require.Equal(t, models.ListingCanceled, tr.Listing.To)
}

func TestResolve(t *testing.T) {
	cases := []struct {
		tt    models.TradeType
		state models.TradeState
		to    ReleaseTo
		want  models.TradeState
	}{
		{models.TradeTypeSell, models.StateDispute1, ReleaseToBuyer, models.StateCanWithdraw},
		{models.TradeTypeSell, models.StateDispute1, ReleaseToSeller, models.StateCanRelease},
		{models.TradeTypeLend, models.StateDispute1, ReleaseToBuyer, models.StateCanWithdraw},
		{models.TradeTypeLend, models.StateDispute1, ReleaseToSeller, models.StateCanRelease},
		{models.TradeTypeLend, models.StateDispute2, ReleaseToBuyer, models.StateCanReclaim},
		{models.TradeTypeLend, models.StateDispute2, ReleaseToSeller, models.StateCanSeize},
	}
	for _, tc := range cases {
		got, err := Resolve(newTrade(tc.tt, tc.state, testNow), tc.to)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestResolveRejects(t *testing.T) {
	_, err := Resolve(newTrade(models.TradeTypeSell, models.StateDispute2, testNow), ReleaseToBuyer)
	require.ErrorIs(t, err, ErrInvalidAction)

	_, err = Resolve(newTrade(models.TradeTypeSell, models.StateTradeSent, testNow), ReleaseToSeller)
	require.ErrorIs(t, err, ErrInvalidAction)

	_, err = Resolve(newTrade(models.TradeTypeLend, models.StateDispute1, testNow), ReleaseTo("admin"))
	require.ErrorIs(t, err, ErrInvalidRequest)
}
