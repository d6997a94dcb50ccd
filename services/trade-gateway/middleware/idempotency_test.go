package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tradeescrow/services/trade-gateway/auth"
	"tradeescrow/services/trade-gateway/models"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + strconv.Itoa(*calls) + `}`))
	})
}

func request(method, path, subject, key string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	return req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Subject: subject, Role: auth.RoleUser}))
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	db := setupDB(t)
	calls := 0
	h := WithIdempotency(db, countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, request(http.MethodPost, "/api/v1/trades", "alice", "k1"))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, request(http.MethodPost, "/api/v1/trades", "alice", "k1"))

	require.Equal(t, 1, calls)
	require.Equal(t, http.StatusCreated, second.Code)
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))

	other := httptest.NewRecorder()
	h.ServeHTTP(other, request(http.MethodPost, "/api/v1/trades", "bob", "k1"))
	require.Equal(t, 2, calls)

	mismatch := httptest.NewRecorder()
	h.ServeHTTP(mismatch, request(http.MethodDelete, "/api/v1/listings/x", "alice", "k1"))
	require.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)
	require.Equal(t, 2, calls)
}

func TestIdempotencySkipsReadsAndServerErrors(t *testing.T) {
	db := setupDB(t)
	calls := 0
	h := WithIdempotency(db, countingHandler(&calls, http.StatusBadGateway))

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), request(http.MethodPost, "/internal/reconcile", "internal", "k2"))
	}
	require.Equal(t, 2, calls)

	reads := WithIdempotency(db, countingHandler(&calls, http.StatusOK))
	for i := 0; i < 2; i++ {
		reads.ServeHTTP(httptest.NewRecorder(), request(http.MethodGet, "/api/v1/trades", "alice", "k3"))
	}
	require.Equal(t, 4, calls)

	var stored int64
	require.NoError(t, db.Model(&models.IdempotencyKey{}).Count(&stored).Error)
	require.Zero(t, stored)
}
