package store

import (
	"context"

	"tradeescrow/services/trade-gateway/models"
)

var (
	sellerActiveStates = []models.TradeState{
		models.StateDeposited, models.StateTradeSent, models.StatePeriodStarted, models.StateReturnTradeSent,
		models.StateCanRelease, models.StateCanSeize, models.StateDispute1, models.StateDispute2,
	}
	buyerActiveStates = []models.TradeState{
		models.StateDeposited, models.StateTradeSent, models.StatePeriodStarted, models.StateReturnTradeSent,
		models.StateCanWithdraw, models.StateCanReclaim, models.StateDispute1, models.StateDispute2,
	}
)

// Page bounds a list query. Page is 1-based.
type Page struct {
	Page    int
	PerPage int
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 20
	}
	if p.PerPage > 200 {
		p.PerPage = 200
	}
	return p
}

// ListTrades returns the party's trades, most recently updated first. Trades
// still in created are never listed. With onlyActive, each side only sees
// trades that still need its attention, plus sellers see trades with rent
// left to claim.
func (s *Store) ListTrades(ctx context.Context, party string, onlyActive bool, page Page) ([]models.Trade, error) {
	page = page.normalize()
	q := s.db.WithContext(ctx).Model(&models.Trade{})
	if onlyActive {
		q = q.Where(
			s.db.Where("seller = ? AND state IN ?", party, sellerActiveStates).
				Or("buyer = ? AND state IN ?", party, buyerActiveStates).
				Or("seller = ? AND rent_claimable = ?", party, true),
		)
	} else {
		q = q.Where(s.db.Where("buyer = ?", party).Or("seller = ?", party)).
			Where("state <> ?", models.StateCreated)
	}
	var trades []models.Trade
	err := q.Order("updated_at DESC").Order("id ASC").
		Offset((page.Page - 1) * page.PerPage).
		Limit(page.PerPage).
		Find(&trades).Error
	return trades, err
}

// ListDisputes returns trades waiting for arbitration, oldest first.
func (s *Store) ListDisputes(ctx context.Context, page Page) ([]models.Trade, error) {
	page = page.normalize()
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Where("state IN ?", []models.TradeState{models.StateDispute1, models.StateDispute2}).
		Order("updated_at ASC").Order("id ASC").
		Offset((page.Page - 1) * page.PerPage).
		Limit(page.PerPage).
		Find(&trades).Error
	return trades, err
}
