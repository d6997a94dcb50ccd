package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/ledger"
	"tradeescrow/services/trade-gateway/models"
	"tradeescrow/services/trade-gateway/notify"
	"tradeescrow/services/trade-gateway/store"
)

type claimRule struct {
	from      models.TradeState
	to        models.TradeState
	initiator string
	rent      bool
	fee       bool
}

// claimRules maps a claim type to the single precondition it may be applied from.
var claimRules = map[string]claimRule{
	"withdraw": {from: models.StateCanWithdraw, to: models.StateWithdrawn, initiator: models.InitiatorBuyer},
	"release":  {from: models.StateCanRelease, to: models.StateReleased, initiator: models.InitiatorSeller},
	"reclaim":  {from: models.StateCanReclaim, to: models.StateReclaimed, initiator: models.InitiatorBuyer},
	"seize":    {from: models.StateCanSeize, to: models.StateSeized, initiator: models.InitiatorSeller},
	"rent":     {initiator: models.InitiatorSeller, rent: true},
	"fee":      {initiator: models.InitiatorAdmin, fee: true},
}

func (r *Reconciler) applyDeposit(ctx context.Context, evt ledger.Event) (*models.Trade, bool, error) {
	trade, err := r.store.GetTrade(ctx, evt.TradeID)
	if err != nil {
		r.metrics.RecordEvent("deposit", "missing")
		return nil, false, err
	}
	if trade.State != models.StateCreated {
		r.metrics.RecordEvent("deposit", "noop")
		return trade, false, nil
	}
	listing, err := r.store.GetListing(ctx, trade.ListingID)
	if err != nil {
		r.metrics.RecordEvent("deposit", "missing")
		return nil, false, err
	}

	now := r.now().UTC()
	if listing.State != models.ListingActive {
		// Another trade already took the listing: the funds are returned.
		err := r.store.UpdateTrade(ctx, trade.ID, store.TradeUpdate{
			From:      models.StateCreated,
			To:        models.StateCanWithdraw,
			DepositTx: evt.TxHash,
			Initiator: models.InitiatorBuyer,
			Now:       now,
		})
		if errors.Is(err, engine.ErrConflict) {
			r.metrics.RecordEvent("deposit", "noop")
			return r.reload(ctx, trade)
		}
		if err != nil {
			r.metrics.RecordEvent("deposit", "failed")
			return nil, false, err
		}
		r.logger.Warn("recon: deposit on unavailable listing, refunding",
			slog.String("trade_id", trade.ID.String()), slog.String("listing_state", string(listing.State)))
		updated, _, err := r.reload(ctx, trade)
		if err != nil {
			return nil, false, err
		}
		r.metrics.RecordEvent("deposit", "applied")
		r.notifier.Emit(notify.EventTradeUpdated, updated, updated.Buyer)
		return updated, true, nil
	}

	deadline := now.Add(engine.DepositWindow)
	var moved *models.Listing
	err = r.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.UpdateTrade(ctx, trade.ID, store.TradeUpdate{
			From:      models.StateCreated,
			To:        models.StateDeposited,
			Deadline:  &deadline,
			DepositTx: evt.TxHash,
			Initiator: models.InitiatorBuyer,
			Now:       now,
		}); err != nil {
			return err
		}
		var err error
		moved, err = r.listings.Transition(ctx, tx.DB(), listing.ID, models.ListingActive, models.ListingOngoing)
		return err
	})
	if err != nil {
		r.metrics.RecordEvent("deposit", "failed")
		return nil, false, err
	}

	updated, _, err := r.reload(ctx, trade)
	if err != nil {
		return nil, false, err
	}
	r.metrics.RecordEvent("deposit", "applied")
	if !moved.Hidden {
		r.notifier.Emit(notify.EventListingDeleted, map[string]string{"id": moved.ID.String()}, "")
	}
	r.notifier.Emit(notify.EventTradeUpdated, updated, updated.Seller)
	r.notifier.Emit(notify.EventTradeUpdated, updated, updated.Buyer)
	return updated, true, nil
}

func (r *Reconciler) applyClaim(ctx context.Context, evt ledger.Event) (*models.Trade, bool, error) {
	rule, ok := claimRules[evt.ClaimType]
	if !ok {
		r.metrics.RecordEvent("claim", "stale")
		r.logger.Warn("recon: unknown claim type", slog.String("trade_id", evt.TradeID.String()), slog.String("claim_type", evt.ClaimType))
		return nil, false, fmt.Errorf("%w: claim type %q", engine.ErrStaleEvent, evt.ClaimType)
	}
	trade, err := r.store.GetTrade(ctx, evt.TradeID)
	if err != nil {
		r.metrics.RecordEvent("claim", "missing")
		r.logger.Warn("recon: claim for unknown trade", slog.String("trade_id", evt.TradeID.String()), slog.String("claim_type", evt.ClaimType))
		return nil, false, err
	}
	if !rule.eligible(trade) {
		r.metrics.RecordEvent("claim", "stale")
		r.logger.Warn("recon: stale claim event",
			slog.String("trade_id", trade.ID.String()),
			slog.String("claim_type", evt.ClaimType),
			slog.String("state", string(trade.State)),
			slog.Uint64("height", evt.Height))
		return trade, false, fmt.Errorf("%w: %s on %s trade", engine.ErrStaleEvent, evt.ClaimType, trade.State)
	}

	update := store.TradeUpdate{Initiator: rule.initiator, Now: r.now().UTC()}
	off := false
	switch {
	case rule.rent:
		update.RequireRentClaimable = true
		update.RentClaimable = &off
		update.LogState = trade.State
	case rule.fee:
		update.RequireFeeClaimable = true
		update.FeeClaimable = &off
		update.LogState = trade.State
	default:
		update.From = rule.from
		update.To = rule.to
	}
	if err := r.store.UpdateTrade(ctx, trade.ID, update); err != nil {
		if errors.Is(err, engine.ErrConflict) {
			r.metrics.RecordEvent("claim", "stale")
			return trade, false, fmt.Errorf("%w: %s raced with another writer", engine.ErrStaleEvent, evt.ClaimType)
		}
		r.metrics.RecordEvent("claim", "failed")
		return nil, false, err
	}

	updated, _, err := r.reload(ctx, trade)
	if err != nil {
		return nil, false, err
	}
	r.metrics.RecordEvent("claim", "applied")
	r.notifier.Emit(notify.EventTradeUpdated, updated, updated.Seller)
	r.notifier.Emit(notify.EventTradeUpdated, updated, updated.Buyer)
	return updated, true, nil
}

func (c claimRule) eligible(trade *models.Trade) bool {
	switch {
	case c.rent:
		return trade.RentClaimable
	case c.fee:
		return trade.FeeClaimable
	default:
		return trade.State == c.from
	}
}

func (r *Reconciler) reload(ctx context.Context, trade *models.Trade) (*models.Trade, bool, error) {
	updated, err := r.store.GetTrade(ctx, trade.ID)
	if err != nil {
		return nil, false, err
	}
	return updated, false, nil
}
