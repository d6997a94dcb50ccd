// Package escrow is the entry point request handlers use to drive trades. It
// pairs the pure transition tables in engine with persistence, listing
// coordination, claim signing and notifications.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeescrow/observability"
	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/listing"
	"tradeescrow/services/trade-gateway/models"
	"tradeescrow/services/trade-gateway/notify"
	"tradeescrow/services/trade-gateway/recon"
	"tradeescrow/services/trade-gateway/signer"
	"tradeescrow/services/trade-gateway/store"
)

// DefaultFeeKey names the setting holding the lending fee percentage.
const DefaultFeeKey = "rentFee"

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Admin bool
}

// Config wires the service dependencies.
type Config struct {
	Store      *store.Store
	Listings   *listing.Coordinator
	Reconciler *recon.Reconciler
	Signer     *signer.Signer
	Notifier   notify.Notifier
	Metrics    *observability.EscrowMetrics
	Logger     *slog.Logger
	Now        func() time.Time
	// FeeKey overrides DefaultFeeKey.
	FeeKey string
	// ChainName is scanned when RunReconciliation gets no chain.
	ChainName string
}

// Service implements the trade and listing operations exposed to the request layer.
type Service struct {
	store      *store.Store
	listings   *listing.Coordinator
	reconciler *recon.Reconciler
	signer     *signer.Signer
	notifier   notify.Notifier
	metrics    *observability.EscrowMetrics
	logger     *slog.Logger
	now        func() time.Time
	feeKey     string
	chainName  string
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("escrow: store required")
	}
	if cfg.Reconciler == nil {
		return nil, errors.New("escrow: reconciler required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("escrow: signer required")
	}
	s := &Service{
		store:      cfg.Store,
		listings:   cfg.Listings,
		reconciler: cfg.Reconciler,
		signer:     cfg.Signer,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        cfg.Now,
		feeKey:     cfg.FeeKey,
		chainName:  cfg.ChainName,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.listings == nil {
		s.listings = listing.NewCoordinator(s.now)
	}
	if s.notifier == nil {
		s.notifier = notify.Noop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.feeKey == "" {
		s.feeKey = DefaultFeeKey
	}
	return s, nil
}

// CreateTradeRequest opens (or fetches) the buyer's pending trade on a listing.
type CreateTradeRequest struct {
	ListingID uuid.UUID
	Buyer     string
	// Weeks is the rental length; only used for lend listings.
	Weeks int
}

// CreateOrGetTrade returns the buyer's created trade on the listing, creating
// it when absent. For lend listings a repeated call with different weeks
// rewrites the terms of the still-unfunded trade.
func (s *Service) CreateOrGetTrade(ctx context.Context, req CreateTradeRequest) (trade *models.Trade, err error) {
	defer func() { s.metrics.RecordAction("create", engine.Kind(err)) }()

	if req.Buyer == "" {
		return nil, fmt.Errorf("%w: buyer required", engine.ErrInvalidRequest)
	}
	l, err := s.store.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if l.State != models.ListingActive {
		return nil, fmt.Errorf("%w: listing %s is %s", engine.ErrConflict, l.ID, l.State)
	}
	if l.Seller == req.Buyer {
		return nil, fmt.Errorf("%w: seller cannot buy own listing", engine.ErrInvalidRequest)
	}
	if l.Type == models.TradeTypeLend && (req.Weeks < l.Lend.MinWeek || req.Weeks > l.Lend.MaxWeek) {
		return nil, fmt.Errorf("%w: weeks must be within [%d, %d]", engine.ErrInvalidRequest, l.Lend.MinWeek, l.Lend.MaxWeek)
	}

	now := s.now().UTC()
	existing, err := s.store.FindCreatedTrade(ctx, req.Buyer, l.ID)
	switch {
	case err == nil:
		return s.refreshTerms(ctx, l, existing, req.Weeks, now)
	case !errors.Is(err, engine.ErrNotFound):
		return nil, err
	}

	trade = &models.Trade{
		ID:        uuid.New(),
		ListingID: l.ID,
		Buyer:     req.Buyer,
		Seller:    l.Seller,
		Type:      l.Type,
		State:     models.StateCreated,
		Deadline:  now.Add(engine.CreateWindow),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if l.Type == models.TradeTypeLend {
		pct := s.feePercent(ctx)
		trade.Weeks = req.Weeks
		trade.Rent = l.Lend.WeeklyPrice * int64(req.Weeks)
		trade.Fee = fee(trade.Rent, pct)
		trade.FeePercent = pct
	}
	if err := s.store.CreateTrade(ctx, trade); err != nil {
		// A concurrent request for the same pair won the unique index.
		if existing, findErr := s.store.FindCreatedTrade(ctx, req.Buyer, l.ID); findErr == nil {
			return s.refreshTerms(ctx, l, existing, req.Weeks, now)
		}
		return nil, err
	}
	s.logger.Info("escrow: trade created",
		slog.String("trade_id", trade.ID.String()),
		slog.String("listing_id", l.ID.String()),
		slog.String("type", string(l.Type)))
	return s.store.GetTrade(ctx, trade.ID)
}

func (s *Service) refreshTerms(ctx context.Context, l *models.Listing, trade *models.Trade, weeks int, now time.Time) (*models.Trade, error) {
	if l.Type != models.TradeTypeLend || trade.Weeks == weeks {
		return s.store.GetTrade(ctx, trade.ID)
	}
	rent := l.Lend.WeeklyPrice * int64(weeks)
	if err := s.store.UpdateCreatedTerms(ctx, trade.ID, weeks, rent, fee(rent, trade.FeePercent), now); err != nil {
		return nil, err
	}
	return s.store.GetTrade(ctx, trade.ID)
}

// feePercent reads the lending fee percentage. A missing or malformed value,
// or one outside [0, 100], means no fee.
func (s *Service) feePercent(ctx context.Context) decimal.Decimal {
	raw, ok, err := s.store.Setting(ctx, s.feeKey)
	if err != nil || !ok {
		if err != nil {
			s.logger.Warn("escrow: read fee setting", slog.String("key", s.feeKey), slog.Any("error", err))
		}
		return decimal.Zero
	}
	pct, err := decimal.NewFromString(raw)
	if err != nil || pct.IsNegative() || pct.GreaterThan(maxFeePercent) {
		s.logger.Warn("escrow: ignoring malformed fee setting", slog.String("key", s.feeKey), slog.String("value", raw))
		return decimal.Zero
	}
	return pct
}

var maxFeePercent = decimal.NewFromInt(100)

func fee(rent int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(rent).Mul(pct).Div(decimal.NewFromInt(100)).Floor().IntPart()
}

// ApplyUserAction runs a party's confirm or reject through the transition
// table. The trade write and any listing side effect commit together.
func (s *Service) ApplyUserAction(ctx context.Context, tradeID uuid.UUID, actor Actor, action engine.Action) (trade *models.Trade, err error) {
	defer func() { s.metrics.RecordAction("action", engine.Kind(err)) }()

	if !action.Valid() {
		return nil, fmt.Errorf("%w: action %q", engine.ErrInvalidRequest, action)
	}
	current, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	var role engine.Role
	switch actor.ID {
	case current.Buyer:
		role = engine.RoleBuyer
	case current.Seller:
		role = engine.RoleSeller
	default:
		return nil, fmt.Errorf("%w: not a party to trade %s", engine.ErrForbidden, tradeID)
	}

	now := s.now().UTC()
	tr, err := engine.Apply(current, role, action, now)
	if err != nil {
		return nil, err
	}

	update := store.TradeUpdate{
		From:      tr.From,
		To:        tr.To,
		Initiator: tr.Initiator,
		Now:       now,
	}
	if tr.DeadlineReset {
		update.Deadline = &tr.Deadline
	}
	if tr.StartRental {
		on := true
		update.RentClaimable = &on
		update.FeeClaimable = &tr.FeeClaimable
	}
	var moved *models.Listing
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.UpdateTrade(ctx, current.ID, update); err != nil {
			return err
		}
		if tr.Listing == nil {
			return nil
		}
		var err error
		moved, err = s.listings.Transition(ctx, tx.DB(), current.ListingID, tr.Listing.From, tr.Listing.To)
		return err
	})
	if err != nil {
		return nil, err
	}

	trade, err = s.store.GetTrade(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("escrow: trade transition",
		slog.String("trade_id", trade.ID.String()),
		slog.String("initiator", tr.Initiator),
		slog.String("from", string(tr.From)),
		slog.String("to", string(tr.To)))

	counterparty := trade.Seller
	if role == engine.RoleSeller {
		counterparty = trade.Buyer
	}
	s.notifier.Emit(notify.EventTradeUpdated, trade, counterparty)
	if moved != nil && moved.State == models.ListingActive && !moved.Hidden {
		s.notifier.Emit(notify.EventListingCreated, moved, "")
	}
	return trade, nil
}

// ConfirmOnchainTx applies the escrow event of a transaction the caller
// submitted, without waiting for the next scan.
func (s *Service) ConfirmOnchainTx(ctx context.Context, tradeID uuid.UUID, actor Actor, txHash string) (trade *models.Trade, err error) {
	defer func() { s.metrics.RecordAction("confirm", engine.Kind(err)) }()

	if txHash == "" {
		return nil, fmt.Errorf("%w: transaction hash required", engine.ErrInvalidRequest)
	}
	current, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && actor.ID != current.Buyer && actor.ID != current.Seller {
		return nil, fmt.Errorf("%w: not a party to trade %s", engine.ErrForbidden, tradeID)
	}
	_, _, chain, err := s.settlement(ctx, current)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Confirm(ctx, chain, current.ID, txHash)
}

// RunReconciliation performs one batch scan. An empty chain name scans the
// configured default chain.
func (s *Service) RunReconciliation(ctx context.Context, chainName string) (*recon.Result, error) {
	if chainName == "" {
		chainName = s.chainName
	}
	if chainName == "" {
		return nil, fmt.Errorf("%w: chain required", engine.ErrInvalidRequest)
	}
	return s.reconciler.Reconcile(ctx, chainName)
}

// ResolveDispute settles a disputed trade in favour of one party and ends the
// listing.
func (s *Service) ResolveDispute(ctx context.Context, tradeID uuid.UUID, to engine.ReleaseTo) (trade *models.Trade, err error) {
	defer func() { s.metrics.RecordAction("resolve", engine.Kind(err)) }()

	current, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	next, err := engine.Resolve(current, to)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.UpdateTrade(ctx, current.ID, store.TradeUpdate{
			From:      current.State,
			To:        next,
			Initiator: models.InitiatorAdmin,
			Now:       now,
		}); err != nil {
			return err
		}
		l, err := tx.GetListing(ctx, current.ListingID)
		if err != nil {
			return err
		}
		if !listing.ValidEdge(l.State, models.ListingCanceled) {
			return nil
		}
		_, err = s.listings.Transition(ctx, tx.DB(), l.ID, l.State, models.ListingCanceled)
		return err
	})
	if err != nil {
		return nil, err
	}

	trade, err = s.store.GetTrade(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("escrow: dispute resolved",
		slog.String("trade_id", trade.ID.String()),
		slog.String("release_to", string(to)),
		slog.String("state", string(trade.State)))
	s.notifier.Emit(notify.EventTradeUpdated, trade, trade.Seller)
	s.notifier.Emit(notify.EventTradeUpdated, trade, trade.Buyer)
	return trade, nil
}

// GetTrade returns a trade visible to the actor.
func (s *Service) GetTrade(ctx context.Context, id uuid.UUID, actor Actor) (*models.Trade, error) {
	trade, err := s.store.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && actor.ID != trade.Buyer && actor.ID != trade.Seller {
		return nil, fmt.Errorf("%w: trade %s", engine.ErrNotFound, id)
	}
	return trade, nil
}

// ListTrades returns the actor's trades.
func (s *Service) ListTrades(ctx context.Context, actor Actor, onlyActive bool, page store.Page) ([]models.Trade, error) {
	return s.store.ListTrades(ctx, actor.ID, onlyActive, page)
}

// ListDisputes returns trades awaiting arbitration.
func (s *Service) ListDisputes(ctx context.Context, page store.Page) ([]models.Trade, error) {
	return s.store.ListDisputes(ctx, page)
}
