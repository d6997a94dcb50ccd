package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeescrow/core/tradeid"
	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/models"
)

func TestRequestClaimSignatureRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.sellListing(t)
	trade, err := f.svc.CreateOrGetTrade(ctx, CreateTradeRequest{ListingID: l.ID, Buyer: buyer.ID})
	require.NoError(t, err)

	first, err := f.svc.RequestClaimSignature(ctx, SignatureRequest{TradeID: trade.ID, Actor: buyer})
	require.NoError(t, err)
	second, err := f.svc.RequestClaimSignature(ctx, SignatureRequest{TradeID: trade.ID, Actor: buyer})
	require.NoError(t, err)
	require.Equal(t, first.Signature, second.Signature)
	require.Equal(t, tradeid.FormatLedgerID(trade.ID), first.ID)

	want := first.Amount
	_, err = f.svc.RequestClaimSignature(ctx, SignatureRequest{TradeID: trade.ID, Actor: buyer, Amount: &want})
	require.NoError(t, err)
	wrong := want + 1
	_, err = f.svc.RequestClaimSignature(ctx, SignatureRequest{TradeID: trade.ID, Actor: buyer, Amount: &wrong})
	require.ErrorIs(t, err, engine.ErrInvalidRequest)

	cases := []struct {
		name string
		req  SignatureRequest
		want error
	}{
		{"stranger", SignatureRequest{TradeID: trade.ID, Actor: Actor{ID: "stranger"}}, engine.ErrForbidden},
		{"seller deposit", SignatureRequest{TradeID: trade.ID, Actor: seller}, engine.ErrForbidden},
		{"unknown kind", SignatureRequest{TradeID: trade.ID, Actor: buyer, Kind: "mint"}, engine.ErrInvalidRequest},
		{"wrong state", SignatureRequest{TradeID: trade.ID, Actor: buyer, Kind: "withdraw", Recipient: "0xb1"}, engine.ErrInvalidAction},
		{"rent not claimable", SignatureRequest{TradeID: trade.ID, Actor: seller, Kind: "rent", Recipient: "0xb1"}, engine.ErrInvalidAction},
		{"fee not claimable", SignatureRequest{TradeID: trade.ID, Actor: admin, Kind: "fee", Recipient: "0xb1"}, engine.ErrInvalidAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RequestClaimSignature(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	f.fund(t, trade)
	_, err = f.svc.RequestClaimSignature(ctx, SignatureRequest{TradeID: trade.ID, Actor: buyer})
	require.ErrorIs(t, err, engine.ErrInvalidAction)

	f.force(t, trade.ID, map[string]any{"state": models.StateCanWithdraw})
	_, err = f.svc.RequestClaimSignature(ctx, SignatureRequest{TradeID: trade.ID, Actor: buyer})
	require.ErrorIs(t, err, engine.ErrInvalidRequest)
	_, err = f.svc.RequestClaimSignature(ctx, SignatureRequest{TradeID: trade.ID, Actor: buyer, Recipient: "0xzz"})
	require.ErrorIs(t, err, engine.ErrInvalidRequest)
	wd, err := f.svc.RequestClaimSignature(ctx, SignatureRequest{TradeID: trade.ID, Actor: buyer, Recipient: "0xb1"})
	require.NoError(t, err)
	require.EqualValues(t, 10_000_000, wd.Amount)
}

func TestRequestClaimSignatureMissingToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.sellListing(t)
	trade, err := f.svc.CreateOrGetTrade(ctx, CreateTradeRequest{ListingID: l.ID, Buyer: buyer.ID})
	require.NoError(t, err)

	require.NoError(t, f.db.Where("symbol = ?", "USDT").Delete(&models.Token{}).Error)
	_, err = f.svc.RequestClaimSignature(ctx, SignatureRequest{TradeID: trade.ID, Actor: buyer})
	require.ErrorIs(t, err, engine.ErrNotFound)
}
