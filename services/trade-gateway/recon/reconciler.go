package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradeescrow/observability"
	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/ledger"
	"tradeescrow/services/trade-gateway/listing"
	"tradeescrow/services/trade-gateway/models"
	"tradeescrow/services/trade-gateway/notify"
	"tradeescrow/services/trade-gateway/store"
)

const (
	// SubRange is the widest block range requested from the ledger at once.
	SubRange uint64 = 10
)

// ErrScanInProgress is returned when another scan holds the chain lock.
var ErrScanInProgress = fmt.Errorf("%w: scan already running", engine.ErrConflict)

// Ledger is the slice of the ledger RPC the reconciler consumes.
type Ledger interface {
	Height(ctx context.Context, ep ledger.Endpoint) (uint64, error)
	Events(ctx context.Context, ep ledger.Endpoint, kind ledger.EventKind, start, end uint64) ([]ledger.Event, error)
	TransactionEvent(ctx context.Context, ep ledger.Endpoint, txHash string) (ledger.Event, error)
}

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	Store    *store.Store
	Listings *listing.Coordinator
	Ledger   Ledger
	Notifier notify.Notifier
	Locker   Locker
	Metrics  *observability.EscrowMetrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Reconciler applies ledger deposit and claim events to trades.
type Reconciler struct {
	store    *store.Store
	listings *listing.Coordinator
	ledger   Ledger
	notifier notify.Notifier
	locker   Locker
	metrics  *observability.EscrowMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// Result summarises one batch scan.
type Result struct {
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	NewHeight uint64 `json:"newHeight"`
}

// NewReconciler validates cfg and fills defaults.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errors.New("recon: store required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("recon: ledger client required")
	}
	r := &Reconciler{
		store:    cfg.Store,
		listings: cfg.Listings,
		ledger:   cfg.Ledger,
		notifier: cfg.Notifier,
		locker:   cfg.Locker,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.listings == nil {
		r.listings = listing.NewCoordinator(r.now)
	}
	if r.notifier == nil {
		r.notifier = notify.Noop{}
	}
	if r.locker == nil {
		r.locker = NewLocalLocker()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

func endpoint(chain *models.Chain) ledger.Endpoint {
	return ledger.Endpoint{RPCURL: chain.RPCURL, Contract: chain.Contract}
}

// Reconcile runs one batch scan for the named chain. It scans
// [last, min(last+scanningSize*SubRange, height)), applies every deposit
// before any claim, and persists the new cursor. The cursor never moves past
// a sub-range that failed to load or a deposit whose transaction aborted.
func (r *Reconciler) Reconcile(ctx context.Context, chainName string) (res *Result, err error) {
	unlock, ok, err := r.locker.TryLock(ctx, chainName)
	if err != nil {
		return nil, fmt.Errorf("recon: acquire lock: %w", err)
	}
	if !ok {
		r.metrics.RecordSkippedScan(chainName)
		return nil, ErrScanInProgress
	}
	defer unlock()

	started := time.Now()
	defer func() {
		var height uint64
		if res != nil {
			height = res.NewHeight
		}
		r.metrics.ObserveScan(chainName, time.Since(started), height, err)
	}()

	chain, err := r.store.GetChain(ctx, chainName)
	if err != nil {
		return nil, err
	}
	ep := endpoint(chain)
	height, err := r.ledger.Height(ctx, ep)
	if err != nil {
		return nil, err
	}
	last := chain.LastBlockHeight
	if height < last {
		return nil, fmt.Errorf("%w: ledger height %d below cursor %d", engine.ErrLedgerUnavailable, height, last)
	}
	scanning := chain.ScanningSize
	if scanning == 0 {
		scanning = 1
	}
	end := min(last+scanning*SubRange, height)

	deposits, claims, end, err := r.fetch(ctx, ep, last, end)
	if err != nil {
		return nil, err
	}

	res = &Result{NewHeight: end}
	for _, evt := range deposits {
		_, applied, err := r.applyDeposit(ctx, evt)
		switch {
		case err == nil && applied:
			res.Processed++
		case err == nil:
			res.Skipped++
		case errors.Is(err, engine.ErrNotFound):
			res.Skipped++
			r.logger.Warn("recon: deposit for unknown trade", slog.String("trade_id", evt.TradeID.String()), slog.Uint64("height", evt.Height))
		default:
			res.Failed++
			res.NewHeight = min(res.NewHeight, evt.Height)
			r.logger.Warn("recon: deposit aborted", slog.String("trade_id", evt.TradeID.String()), slog.Uint64("height", evt.Height), slog.Any("error", err))
		}
	}
	for _, evt := range claims {
		_, applied, err := r.applyClaim(ctx, evt)
		switch {
		case err == nil && applied:
			res.Processed++
		case err == nil, errors.Is(err, engine.ErrStaleEvent), errors.Is(err, engine.ErrNotFound):
			res.Skipped++
		default:
			res.Failed++
			res.NewHeight = min(res.NewHeight, evt.Height)
			r.logger.Warn("recon: claim failed", slog.String("trade_id", evt.TradeID.String()), slog.String("claim_type", evt.ClaimType), slog.Any("error", err))
		}
	}

	if res.NewHeight > last {
		if err := r.store.AdvanceCursor(ctx, chain.Name, last, res.NewHeight); err != nil {
			return nil, err
		}
	} else {
		res.NewHeight = last
	}
	r.logger.Info("recon: scan complete",
		slog.String("chain", chain.Name),
		slog.Uint64("from", last),
		slog.Uint64("to", res.NewHeight),
		slog.Int("processed", res.Processed),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res, nil
}

// fetch loads deposit and claim events sub-range by sub-range. When a
// sub-range fails the scan stops there; events already loaded are kept and
// the returned end is the failed sub-range's start.
func (r *Reconciler) fetch(ctx context.Context, ep ledger.Endpoint, start, end uint64) (deposits, claims []ledger.Event, reached uint64, err error) {
	for from := start; from < end; from += SubRange {
		to := min(from+SubRange, end)
		var dep, clm []ledger.Event
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			dep, err = r.ledger.Events(gctx, ep, ledger.KindDeposit, from, to)
			return err
		})
		g.Go(func() error {
			var err error
			clm, err = r.ledger.Events(gctx, ep, ledger.KindClaim, from, to)
			return err
		})
		if err := g.Wait(); err != nil {
			if from == start {
				return nil, nil, start, err
			}
			r.logger.Warn("recon: sub-range failed, holding cursor",
				slog.Uint64("start", from), slog.Uint64("end", to), slog.Any("error", err))
			return deposits, claims, from, nil
		}
		deposits = append(deposits, dep...)
		claims = append(claims, clm...)
	}
	return deposits, claims, end, nil
}

// Confirm applies the escrow event carried by a user-submitted transaction.
// The event must reference tradeID. Stale events leave the trade untouched
// and return it as is.
func (r *Reconciler) Confirm(ctx context.Context, chain *models.Chain, tradeID uuid.UUID, txHash string) (*models.Trade, error) {
	evt, err := r.ledger.TransactionEvent(ctx, endpoint(chain), txHash)
	if err != nil {
		return nil, err
	}
	if evt.TradeID != tradeID {
		return nil, fmt.Errorf("%w: transaction references another trade", engine.ErrInvalidRequest)
	}
	trade, _, err := r.ApplyEvent(ctx, evt)
	if errors.Is(err, engine.ErrStaleEvent) {
		return r.store.GetTrade(ctx, tradeID)
	}
	return trade, err
}

// ApplyEvent applies a single ledger event. applied is false when the event
// had already been applied.
func (r *Reconciler) ApplyEvent(ctx context.Context, evt ledger.Event) (*models.Trade, bool, error) {
	switch evt.Kind {
	case ledger.KindDeposit:
		return r.applyDeposit(ctx, evt)
	case ledger.KindClaim:
		return r.applyClaim(ctx, evt)
	default:
		return nil, false, fmt.Errorf("%w: event kind %q", engine.ErrInvalidRequest, evt.Kind)
	}
}
