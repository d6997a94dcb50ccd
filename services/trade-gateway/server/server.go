package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"tradeescrow/observability"
	"tradeescrow/services/trade-gateway/auth"
	"tradeescrow/services/trade-gateway/escrow"
	trademw "tradeescrow/services/trade-gateway/middleware"
	"tradeescrow/services/trade-gateway/notify"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Service *escrow.Service
	Auth    *auth.Middleware
	// DB stores idempotency records.
	DB     *gorm.DB
	Hub    *notify.Hub
	Logger *slog.Logger
}

// Server exposes the escrow service over HTTP.
type Server struct {
	service *escrow.Service
	auth    *auth.Middleware
	db      *gorm.DB
	hub     *notify.Hub
	logger  *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router with authentication and idempotency support.
func New(cfg Config) *Server {
	srv := &Server{
		service: cfg.Service,
		auth:    cfg.Auth,
		db:      cfg.DB,
		hub:     cfg.Hub,
		logger:  cfg.Logger,
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(observeRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(protected chi.Router) {
		protected.Use(s.auth.Middleware)
		protected.Use(func(next http.Handler) http.Handler { return trademw.WithIdempotency(s.db, next) })

		protected.Route("/api/v1", func(api chi.Router) {
			api.Use(auth.RequireRole(auth.RoleUser, auth.RoleAdmin))
			api.Post("/trades", s.CreateTrade)
			api.Get("/trades", s.ListTrades)
			api.Get("/trades/{id}", s.GetTrade)
			api.Post("/trades/{id}/actions", s.ApplyAction)
			api.Get("/trades/{id}/signature", s.Signature)
			api.Post("/trades/{id}/confirm", s.ConfirmTx)
			api.Post("/listings", s.CreateListing)
			api.Get("/listings/{id}", s.GetListing)
			api.Delete("/listings/{id}", s.CancelListing)
		})
		protected.Route("/admin", func(admin chi.Router) {
			admin.Use(auth.RequireRole(auth.RoleAdmin))
			admin.Get("/trades/disputes", s.ListDisputes)
			admin.Post("/trades/{id}/resolve", s.ResolveDispute)
		})
		protected.With(auth.RequireRole(auth.RoleInternal)).Post("/internal/reconcile", s.Reconcile)
		protected.With(auth.RequireRole(auth.RoleUser, auth.RoleAdmin)).Get("/ws", s.Notifications)
	})

	return r
}

// observeRequests records latency and status per route pattern.
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		observability.HTTP().Observe(route, r.Method, ww.Status(), time.Since(started))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
