package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tradeescrow/core/tradeid"
	"tradeescrow/core/units"
	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/models"
	"tradeescrow/services/trade-gateway/signer"
)

// SignatureRequest asks for an authorization to run a contract operation.
type SignatureRequest struct {
	TradeID uuid.UUID
	Actor   Actor
	// Kind is optional; it is derived from the trade state when empty.
	Kind string
	// Amount is optional; when set it must equal the amount the trade allows.
	Amount *uint64
	// Recipient receives the funds. Ignored for deposits, which sign the
	// token contract instead.
	Recipient string
}

// Signature is everything a client needs to submit the contract call.
type Signature struct {
	ID        string      `json:"id"`
	Token     string      `json:"token"`
	Contract  string      `json:"contract"`
	ChainID   int64       `json:"chainId"`
	Kind      signer.Kind `json:"kind"`
	Amount    uint64      `json:"amount,string"`
	Signature string      `json:"signature"`
}

// stateKinds maps claim-eligible states to the operation they unlock.
var stateKinds = map[models.TradeState]signer.Kind{
	models.StateCreated:     signer.KindDeposit,
	models.StateCanWithdraw: signer.KindWithdraw,
	models.StateCanRelease:  signer.KindRelease,
	models.StateCanReclaim:  signer.KindReclaim,
	models.StateCanSeize:    signer.KindSeize,
}

// RequestClaimSignature checks that the actor may run the requested operation
// on the trade right now, computes the amount in token units and signs it.
func (s *Service) RequestClaimSignature(ctx context.Context, req SignatureRequest) (sig *Signature, err error) {
	var kind signer.Kind
	defer func() {
		if err == nil {
			s.metrics.RecordSignature(string(kind))
		}
		s.metrics.RecordAction("signature", engine.Kind(err))
	}()

	trade, err := s.store.GetTrade(ctx, req.TradeID)
	if err != nil {
		return nil, err
	}
	isBuyer := req.Actor.ID == trade.Buyer
	isSeller := req.Actor.ID == trade.Seller
	if !isBuyer && !isSeller && !req.Actor.Admin {
		return nil, fmt.Errorf("%w: not a party to trade %s", engine.ErrForbidden, trade.ID)
	}

	kind, err = s.claimKind(trade, req.Kind, isSeller, req.Actor.Admin)
	if err != nil {
		return nil, err
	}
	l, token, chain, err := s.settlement(ctx, trade)
	if err != nil {
		return nil, err
	}

	cents, err := claimAmount(trade, l, kind, isBuyer, isSeller, req.Actor.Admin)
	if err != nil {
		return nil, err
	}
	amount, err := units.CentsToToken(cents, token.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvalidRequest, err)
	}
	if req.Amount != nil && *req.Amount != amount {
		return nil, fmt.Errorf("%w: amount %d does not match %d", engine.ErrInvalidRequest, *req.Amount, amount)
	}

	recipient := strings.TrimSpace(req.Recipient)
	if kind == signer.KindDeposit {
		recipient = token.Contract
	} else if recipient == "" {
		return nil, fmt.Errorf("%w: recipient address required", engine.ErrInvalidRequest)
	}
	signature, err := s.signer.Sign(kind, trade.ID, amount, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvalidRequest, err)
	}
	return &Signature{
		ID:        tradeid.FormatLedgerID(trade.ID),
		Token:     token.Contract,
		Contract:  chain.Contract,
		ChainID:   chain.ChainID,
		Kind:      kind,
		Amount:    amount,
		Signature: signature,
	}, nil
}

func (s *Service) claimKind(trade *models.Trade, raw string, isSeller, isAdmin bool) (signer.Kind, error) {
	if raw != "" {
		kind, err := signer.ParseKind(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %w", engine.ErrInvalidRequest, err)
		}
		return kind, nil
	}
	if kind, ok := stateKinds[trade.State]; ok {
		return kind, nil
	}
	switch {
	case trade.RentClaimable && isSeller:
		return signer.KindRent, nil
	case trade.FeeClaimable && isAdmin:
		return signer.KindFee, nil
	}
	return "", fmt.Errorf("%w: nothing to claim in state %s", engine.ErrInvalidAction, trade.State)
}

// claimAmount returns the cents the operation moves once the trade state and
// the actor's role allow it. Lend deposits carry the rent on top of the price;
// the lender is paid the rent minus the platform fee.
func claimAmount(trade *models.Trade, l *models.Listing, kind signer.Kind, isBuyer, isSeller, isAdmin bool) (int64, error) {
	var (
		state   models.TradeState
		allowed bool
		amount  int64
	)
	withRent := l.Price
	if trade.Type == models.TradeTypeLend {
		withRent += trade.Rent
	}
	switch kind {
	case signer.KindDeposit:
		if l.State != models.ListingActive {
			return 0, fmt.Errorf("%w: listing %s is %s", engine.ErrConflict, l.ID, l.State)
		}
		state, allowed, amount = models.StateCreated, isBuyer, withRent
	case signer.KindWithdraw:
		state, allowed, amount = models.StateCanWithdraw, isBuyer, withRent
	case signer.KindRelease:
		state, allowed, amount = models.StateCanRelease, isSeller, withRent
	case signer.KindReclaim:
		state, allowed, amount = models.StateCanReclaim, isBuyer, l.Price
	case signer.KindSeize:
		state, allowed, amount = models.StateCanSeize, isSeller, l.Price
	case signer.KindRent:
		if !trade.RentClaimable {
			return 0, fmt.Errorf("%w: rent not claimable", engine.ErrInvalidAction)
		}
		if !isSeller {
			return 0, fmt.Errorf("%w: only the lender claims rent", engine.ErrForbidden)
		}
		return trade.Rent - trade.Fee, nil
	case signer.KindFee:
		if !trade.FeeClaimable {
			return 0, fmt.Errorf("%w: fee not claimable", engine.ErrInvalidAction)
		}
		if !isAdmin {
			return 0, fmt.Errorf("%w: only the platform claims fees", engine.ErrForbidden)
		}
		return trade.Fee, nil
	default:
		return 0, fmt.Errorf("%w: kind %q", engine.ErrInvalidRequest, kind)
	}
	if trade.State != state {
		return 0, fmt.Errorf("%w: %s requires state %s, trade is %s", engine.ErrInvalidAction, kind, state, trade.State)
	}
	if !allowed {
		return 0, fmt.Errorf("%w: %s not allowed for this party", engine.ErrForbidden, kind)
	}
	return amount, nil
}

// settlement resolves the listing, payment token and chain a trade settles on.
func (s *Service) settlement(ctx context.Context, trade *models.Trade) (*models.Listing, *models.Token, *models.Chain, error) {
	l, err := s.store.GetListing(ctx, trade.ListingID)
	if err != nil {
		return nil, nil, nil, err
	}
	token, err := s.store.GetToken(ctx, l.Token)
	if err != nil {
		return nil, nil, nil, err
	}
	chain, err := s.store.GetChain(ctx, token.Chain)
	if err != nil {
		return nil, nil, nil, err
	}
	return l, token, chain, nil
}
