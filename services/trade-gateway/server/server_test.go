package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tradeescrow/services/trade-gateway/auth"
	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/escrow"
	"tradeescrow/services/trade-gateway/ledger"
	"tradeescrow/services/trade-gateway/models"
	"tradeescrow/services/trade-gateway/recon"
	"tradeescrow/services/trade-gateway/signer"
	"tradeescrow/services/trade-gateway/store"
)

const jwtSecret = "server-test-secret"

type stubLedger struct{}

func (stubLedger) Height(context.Context, ledger.Endpoint) (uint64, error) { return 12, nil }

func (stubLedger) Events(context.Context, ledger.Endpoint, ledger.EventKind, uint64, uint64) ([]ledger.Event, error) {
	return nil, nil
}

func (stubLedger) TransactionEvent(context.Context, ledger.Endpoint, string) (ledger.Event, error) {
	return ledger.Event{}, engine.ErrLedgerUnavailable
}

type harness struct {
	db      *gorm.DB
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	require.NoError(t, db.Create(&models.Chain{Name: "supra", ChainID: 6, RPCURL: "http://ledger", Contract: "0xabc::escrow", ScanningSize: 1}).Error)
	require.NoError(t, db.Create(&models.Token{Symbol: "USDT", Chain: "supra", Decimals: 6, Contract: "0x1::usdt::USDT"}).Error)

	st := store.New(db)
	reconciler, err := recon.NewReconciler(recon.Config{Store: st, Ledger: stubLedger{}})
	require.NoError(t, err)
	key, err := signer.NewEd25519Key(make([]byte, 32))
	require.NoError(t, err)
	svc, err := escrow.New(escrow.Config{Store: st, Reconciler: reconciler, Signer: signer.New(key), ChainName: "supra"})
	require.NoError(t, err)
	mw, err := auth.NewMiddleware(auth.Config{
		HSSecret:      jwtSecret,
		Issuer:        "trade-tests",
		Audience:      []string{"trade"},
		AdminSubjects: []string{"arbiter"},
		InternalToken: "cron-token",
	})
	require.NoError(t, err)

	srv := New(Config{Service: svc, Auth: mw, DB: db})
	return &harness{db: db, handler: srv.Handler()}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "trade-tests",
		"sub": subject,
		"aud": "trade",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, method, path, subject string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	switch subject {
	case "":
	case "internal":
		req.Header.Set(auth.InternalTokenHeader, "cron-token")
	default:
		req.Header.Set("Authorization", "Bearer "+token(t, subject))
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTradeFlowOverHTTP(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/listings", "seller-1", map[string]any{
		"itemId": "sword-1", "token": "USDT", "type": "sell", "price": 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	l := decodeBody[models.Listing](t, rec)

	rec = h.do(t, http.MethodPost, "/api/v1/trades", "buyer-1", map[string]any{"listingId": l.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	trade := decodeBody[models.Trade](t, rec)
	require.Equal(t, models.StateCreated, trade.State)

	rec = h.do(t, http.MethodGet, "/api/v1/trades/"+trade.ID.String()+"/signature", "buyer-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sig := decodeBody[map[string]any](t, rec)
	require.Equal(t, "deposit", sig["kind"])
	require.Equal(t, "10000000", sig["amount"])
	require.EqualValues(t, 6, sig["chainId"])

	rec = h.do(t, http.MethodPost, "/api/v1/trades/"+trade.ID.String()+"/actions", "seller-1", map[string]any{"action": "confirm"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, errorBody{Kind: engine.KindInvalidAction, Message: "action not allowed in the current trade state"}, decodeBody[errorBody](t, rec))

	rec = h.do(t, http.MethodGet, "/api/v1/trades/"+trade.ID.String(), "stranger", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/trades/"+trade.ID.String()+"/confirm", "buyer-1", map[string]any{"txHash": "0x1"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, engine.KindLedgerUnavailable, decodeBody[errorBody](t, rec).Kind)

	rec = h.do(t, http.MethodDelete, "/api/v1/listings/"+l.ID.String(), "buyer-1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(t, http.MethodDelete, "/api/v1/listings/"+l.ID.String(), "seller-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.ListingCanceled, decodeBody[models.Listing](t, rec).State)
}

func TestRoleGating(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/v1/trades", "", nil).Code)
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/admin/trades/disputes", "buyer-1", nil).Code)
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, "/internal/reconcile", "arbiter", nil).Code)
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/api/v1/trades", "internal", nil).Code)

	rec := h.do(t, http.MethodGet, "/admin/trades/disputes", "arbiter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeBody[map[string][]models.Trade](t, rec)["trades"])

	rec = h.do(t, http.MethodPost, "/internal/reconcile", "internal", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"processed":0,"skipped":0,"failed":0,"newHeight":10}`, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/admin/trades/"+uuid.NewString()+"/resolve", "arbiter", map[string]string{"releaseTo": "buyer"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "", nil).Code)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/trades/not-a-uuid", "buyer-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trades", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+token(t, "buyer-1"))
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, engine.KindInvalidRequest, decodeBody[errorBody](t, rec).Kind)

	rec = h.do(t, http.MethodGet, "/api/v1/trades/"+uuid.NewString()+"/signature?amount=abc", "buyer-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTradeIsIdempotentByKey(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/listings", "seller-1", map[string]any{
		"itemId": "shield", "token": "USDT", "type": "sell", "price": 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	l := decodeBody[models.Listing](t, rec)

	send := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]any{"listingId": l.ID})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/trades", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token(t, "buyer-1"))
		req.Header.Set("Idempotency-Key", "create-1")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}
	first := send()
	second := send()
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
}

func TestToStatusHidesDetails(t *testing.T) {
	code, body := toStatus(fmt.Errorf("%w: trade 42 secret detail", engine.ErrNotFound))
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "resource not found", body.Message)

	code, body = toStatus(errors.New("pq: connection refused"))
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, errorBody{Kind: engine.KindInternal, Message: "internal error"}, body)

	code, body = toStatus(fmt.Errorf("%w: %w", engine.ErrTransactionAbort, engine.ErrConflict))
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, engine.KindConflict, body.Kind)
}
