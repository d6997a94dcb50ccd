package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tradeescrow/services/trade-gateway/auth"
	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/escrow"
	"tradeescrow/services/trade-gateway/listing"
	"tradeescrow/services/trade-gateway/models"
	"tradeescrow/services/trade-gateway/store"
)

func actorFrom(r *http.Request) (escrow.Actor, error) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		return escrow.Actor{}, fmt.Errorf("%w: missing identity", engine.ErrForbidden)
	}
	return escrow.Actor{ID: claims.Subject, Admin: claims.Role == auth.RoleAdmin}, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", engine.ErrInvalidRequest)
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid payload", engine.ErrInvalidRequest)
	}
	return nil
}

func pageFrom(r *http.Request) store.Page {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	return store.Page{Page: page, PerPage: perPage}
}

// CreateTrade opens or returns the caller's pending trade on a listing.
func (s *Server) CreateTrade(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		ListingID uuid.UUID `json:"listingId"`
		Weeks     int       `json:"weeks"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	trade, err := s.service.CreateOrGetTrade(r.Context(), escrow.CreateTradeRequest{
		ListingID: req.ListingID,
		Buyer:     actor.ID,
		Weeks:     req.Weeks,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// ListTrades returns the caller's trades.
func (s *Server) ListTrades(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	onlyActive, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	trades, err := s.service.ListTrades(r.Context(), actor, onlyActive, pageFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// GetTrade returns one trade with its audit trail.
func (s *Server) GetTrade(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trade, err := s.service.GetTrade(r.Context(), id, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// ApplyAction confirms or rejects the current step of a trade.
func (s *Server) ApplyAction(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	action := engine.Action(strings.ToLower(strings.TrimSpace(req.Action)))
	trade, err := s.service.ApplyUserAction(r.Context(), id, actor, action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// Signature issues the authorization for the caller's next contract call.
func (s *Server) Signature(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	req := escrow.SignatureRequest{
		TradeID:   id,
		Actor:     actor,
		Kind:      q.Get("kind"),
		Recipient: q.Get("address"),
	}
	if raw := strings.TrimSpace(q.Get("amount")); raw != "" {
		amount, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: amount", engine.ErrInvalidRequest))
			return
		}
		req.Amount = &amount
	}
	sig, err := s.service.RequestClaimSignature(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// ConfirmTx applies a submitted ledger transaction without waiting for the scan.
func (s *Server) ConfirmTx(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		TxHash string `json:"txHash"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	trade, err := s.service.ConfirmOnchainTx(r.Context(), id, actor, strings.TrimSpace(req.TxHash))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// CreateListing publishes a new listing for the caller.
func (s *Server) CreateListing(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		ItemID string            `json:"itemId"`
		Token  string            `json:"token"`
		Type   models.TradeType  `json:"type"`
		Price  int64             `json:"price"`
		Lend   *models.LendTerms `json:"lend"`
		Hidden bool              `json:"hidden"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.service.CreateListing(r.Context(), listing.CreateRequest{
		Seller: actor.ID,
		ItemID: req.ItemID,
		Token:  req.Token,
		Type:   req.Type,
		Price:  req.Price,
		Lend:   req.Lend,
		Hidden: req.Hidden,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// GetListing returns a listing.
func (s *Server) GetListing(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.service.GetListing(r.Context(), id, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// CancelListing withdraws the caller's active listing.
func (s *Server) CancelListing(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.service.CancelListing(r.Context(), id, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ListDisputes returns trades awaiting arbitration.
func (s *Server) ListDisputes(w http.ResponseWriter, r *http.Request) {
	trades, err := s.service.ListDisputes(r.Context(), pageFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ResolveDispute settles a disputed trade.
func (s *Server) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		ReleaseTo string `json:"releaseTo"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	trade, err := s.service.ResolveDispute(r.Context(), id, engine.ReleaseTo(strings.ToLower(strings.TrimSpace(req.ReleaseTo))))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// Reconcile runs one batch scan on behalf of an internal caller.
func (s *Server) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Chain string `json:"chain"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.service.RunReconciliation(r.Context(), strings.TrimSpace(req.Chain))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Notifications upgrades to a websocket streaming the caller's events.
func (s *Server) Notifications(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.hub == nil {
		http.Error(w, "notifications disabled", http.StatusServiceUnavailable)
		return
	}
	s.hub.Serve(w, r, actor.ID)
}
