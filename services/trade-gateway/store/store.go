package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/models"
)

// Store wraps the gorm handle with the conditional updates the escrow engine
// relies on. A Store obtained from WithTx is bound to that transaction.
type Store struct {
	db   *gorm.DB
	inTx bool
}

// New returns a Store backed by db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle, bound to the transaction when inside WithTx.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx runs fn in a single database transaction. Any failure rolls back
// every write made through the supplied Store and is reported as
// ErrTransactionAbort; the underlying cause stays matchable with errors.Is.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, inTx: true})
	})
	if err != nil {
		return fmt.Errorf("%w: %w", engine.ErrTransactionAbort, err)
	}
	return nil
}

// GetTrade loads a trade with its audit trail in insertion order.
func (s *Store) GetTrade(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&trade, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "trade %s", id)
	}
	return &trade, nil
}

// GetListing loads a listing by id.
func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := s.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "listing %s", id)
	}
	return &listing, nil
}

// GetToken loads a payment token by symbol.
func (s *Store) GetToken(ctx context.Context, symbol string) (*models.Token, error) {
	var token models.Token
	if err := s.db.WithContext(ctx).First(&token, "symbol = ?", symbol).Error; err != nil {
		return nil, notFound(err, "token %s", symbol)
	}
	return &token, nil
}

// GetChain loads the chain config and scan cursor by name.
func (s *Store) GetChain(ctx context.Context, name string) (*models.Chain, error) {
	var chain models.Chain
	if err := s.db.WithContext(ctx).First(&chain, "name = ?", name).Error; err != nil {
		return nil, notFound(err, "chain %s", name)
	}
	return &chain, nil
}

// Setting returns the named configuration value. ok is false when unset.
func (s *Store) Setting(ctx context.Context, key string) (value string, ok bool, err error) {
	var setting models.Setting
	err = s.db.WithContext(ctx).Where(&models.Setting{Key: key}).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return setting.Value, true, nil
}

// PutSetting inserts or replaces a configuration value.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Save(&models.Setting{Key: key, Value: value}).Error
}

// FindCreatedTrade returns the buyer's pending trade on a listing, if any.
func (s *Store) FindCreatedTrade(ctx context.Context, buyer string, listingID uuid.UUID) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).
		Where("buyer = ? AND listing_id = ? AND state = ?", buyer, listingID, models.StateCreated).
		First(&trade).Error
	if err != nil {
		return nil, notFound(err, "created trade for listing %s", listingID)
	}
	return &trade, nil
}

// CreateTrade inserts a new trade. The partial unique index on
// (buyer, listing_id) rejects a second created trade for the same pair.
func (s *Store) CreateTrade(ctx context.Context, trade *models.Trade) error {
	return s.db.WithContext(ctx).Omit("Logs").Create(trade).Error
}

// UpdateCreatedTerms rewrites the lending terms of a trade still in created.
func (s *Store) UpdateCreatedTerms(ctx context.Context, id uuid.UUID, weeks int, rent, fee int64, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("id = ? AND state = ?", id, models.StateCreated).
		Updates(map[string]any{"weeks": weeks, "rent": rent, "fee": fee, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

// TradeUpdate describes a compare-and-swap write on one trade. The row is
// only touched when every precondition still holds.
type TradeUpdate struct {
	// From is the expected current state; empty skips the state check.
	From models.TradeState
	// RequireRentClaimable and RequireFeeClaimable condition the write on the
	// respective flag still being set.
	RequireRentClaimable bool
	RequireFeeClaimable  bool

	// To is the new state; empty keeps the current state.
	To            models.TradeState
	Deadline      *time.Time
	DepositTx     string
	RentClaimable *bool
	FeeClaimable  *bool

	// Initiator, when set, appends an audit entry. LogState defaults to To.
	Initiator string
	LogState  models.TradeState
	Now       time.Time
}

// UpdateTrade applies u atomically with its audit entry. A lost race yields
// ErrConflict and a missing trade ErrNotFound.
func (s *Store) UpdateTrade(ctx context.Context, id uuid.UUID, u TradeUpdate) error {
	return s.WithTx(ctx, func(tx *Store) error {
		return tx.updateTrade(ctx, id, u)
	})
}

func (s *Store) updateTrade(ctx context.Context, id uuid.UUID, u TradeUpdate) error {
	now := u.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	q := s.db.WithContext(ctx).Model(&models.Trade{}).Where("id = ?", id)
	if u.From != "" {
		q = q.Where("state = ?", u.From)
	}
	if u.RequireRentClaimable {
		q = q.Where("rent_claimable = ?", true)
	}
	if u.RequireFeeClaimable {
		q = q.Where("fee_claimable = ?", true)
	}

	values := map[string]any{"updated_at": now}
	if u.To != "" {
		values["state"] = u.To
	}
	if u.Deadline != nil {
		values["deadline"] = *u.Deadline
	}
	if u.DepositTx != "" {
		values["deposit_tx"] = u.DepositTx
	}
	if u.RentClaimable != nil {
		values["rent_claimable"] = *u.RentClaimable
	}
	if u.FeeClaimable != nil {
		values["fee_claimable"] = *u.FeeClaimable
	}

	res := q.Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missOrConflict(ctx, id)
	}

	if u.Initiator == "" {
		return nil
	}
	logState := u.LogState
	if logState == "" {
		logState = u.To
	}
	entry := models.TradeLog{TradeID: id, Initiator: u.Initiator, State: logState, CreatedAt: now}
	return s.db.WithContext(ctx).Create(&entry).Error
}

// AdvanceCursor moves the chain's last scanned height from `from` to `to`.
// The write is conditioned on the stored height still equal to `from`, so two
// scans racing from the same start cannot both advance it.
func (s *Store) AdvanceCursor(ctx context.Context, chain string, from, to uint64) error {
	if to < from {
		return fmt.Errorf("%w: cursor regression %d -> %d", engine.ErrInvalidRequest, from, to)
	}
	res := s.db.WithContext(ctx).Model(&models.Chain{}).
		Where("name = ? AND last_block_height = ?", chain, from).
		Updates(map[string]any{"last_block_height": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetChain(ctx, chain); err != nil {
			return err
		}
		return fmt.Errorf("%w: chain %s cursor moved from %d", engine.ErrConflict, chain, from)
	}
	return nil
}

func (s *Store) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Trade{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: trade %s", engine.ErrNotFound, id)
	}
	return fmt.Errorf("%w: trade %s changed concurrently", engine.ErrConflict, id)
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", engine.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
