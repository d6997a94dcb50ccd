package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"tradeescrow/services/trade-gateway/auth"
	"tradeescrow/services/trade-gateway/models"
)

// ContextKeyIDKey stores the idempotency key associated with the request.
type ContextKeyIDKey string

const contextKeyIdempotency ContextKeyIDKey = "idempotency-key"

// HeaderIdempotencyKey is the request header carrying the client key.
const HeaderIdempotencyKey = "Idempotency-Key"

// KeyFromContext returns the idempotency key of the request, if any.
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(contextKeyIdempotency).(string)
	return key
}

// WithIdempotency replays the stored response when a caller repeats a
// mutating request with the same key. Keys are scoped to the authenticated
// subject and server errors are not stored so they can be retried.
func WithIdempotency(db *gorm.DB, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		subject := ""
		if claims, err := auth.FromContext(r.Context()); err == nil {
			subject = claims.Subject
		}
		scoped := subject + "|" + key

		var record models.IdempotencyKey
		if err := db.WithContext(r.Context()).Where(&models.IdempotencyKey{Key: scoped}).First(&record).Error; err == nil {
			if record.Method != r.Method || record.Path != r.URL.Path {
				http.Error(w, "idempotency key reused for a different request", http.StatusUnprocessableEntity)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(record.Status)
			_, _ = w.Write([]byte(record.Response))
			return
		}

		recorder := &responseRecorder{ResponseWriter: w}
		ctx := context.WithValue(r.Context(), contextKeyIdempotency, key)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			return
		}
		payload := models.IdempotencyKey{
			Key:       scoped,
			Subject:   subject,
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    status,
			Response:  recorder.buf.String(),
			CreatedAt: time.Now().UTC(),
		}
		_ = db.WithContext(r.Context()).Create(&payload).Error
	})
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	if rr.status == 0 {
		rr.status = status
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
