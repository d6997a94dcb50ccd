package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context keys for storing authenticated user information.
type contextKey string

const contextKeyClaims contextKey = "jwt_claims"

// InternalTokenHeader carries the shared secret of internal callers such as
// the reconciliation cron.
const InternalTokenHeader = "X-Internal-Token"

// Role represents what an authenticated caller may do.
type Role string

const (
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
	RoleInternal Role = "internal"
)

// Claims represents identity data extracted from the inbound request.
type Claims struct {
	Subject string
	Role    Role
}

// Config controls token verification.
type Config struct {
	HSSecret       string
	Issuer         string
	Audience       []string
	MaxSkewSeconds int
	// AdminSubjects lists the subjects that act as arbiters.
	AdminSubjects []string
	// InternalToken authenticates internal callers; empty disables them.
	InternalToken string
}

// Middleware authenticates bearer tokens and internal callers.
type Middleware struct {
	verifier      *jwtVerifier
	admins        map[string]struct{}
	internalToken string
}

// NewMiddleware constructs a Middleware using the supplied configuration.
func NewMiddleware(cfg Config) (*Middleware, error) {
	secret := strings.TrimSpace(cfg.HSSecret)
	if secret == "" {
		return nil, errors.New("HS256 secret must not be empty")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errors.New("JWT issuer is required")
	}
	audiences := make([]string, 0, len(cfg.Audience))
	for _, aud := range cfg.Audience {
		if trimmed := strings.TrimSpace(aud); trimmed != "" {
			audiences = append(audiences, trimmed)
		}
	}
	if len(audiences) == 0 {
		return nil, errors.New("at least one JWT audience is required")
	}
	leeway := time.Duration(cfg.MaxSkewSeconds) * time.Second
	if cfg.MaxSkewSeconds <= 0 {
		leeway = 30 * time.Second
	}

	admins := make(map[string]struct{}, len(cfg.AdminSubjects))
	for _, subject := range cfg.AdminSubjects {
		if trimmed := strings.TrimSpace(subject); trimmed != "" {
			admins[trimmed] = struct{}{}
		}
	}
	return &Middleware{
		verifier: &jwtVerifier{
			key:      []byte(secret),
			issuer:   issuer,
			audience: audiences,
			leeway:   leeway,
			now:      time.Now,
		},
		admins:        admins,
		internalToken: strings.TrimSpace(cfg.InternalToken),
	}, nil
}

// Middleware attaches Claims to the request context or rejects the request.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	if m == nil {
		panic("auth middleware is nil")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if internal := strings.TrimSpace(r.Header.Get(InternalTokenHeader)); internal != "" {
			if m.internalToken == "" || subtle.ConstantTimeCompare([]byte(internal), []byte(m.internalToken)) != 1 {
				http.Error(w, "invalid internal token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), &Claims{Subject: string(RoleInternal), Role: RoleInternal})))
			return
		}

		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "invalid authorization scheme", http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		subject, err := m.verifier.Verify(token)
		if err != nil {
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}
		role := RoleUser
		if _, ok := m.admins[subject]; ok {
			role = RoleAdmin
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), &Claims{Subject: subject, Role: role})))
	})
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

// FromContext extracts the Claims previously attached by the middleware.
func FromContext(ctx context.Context) (*Claims, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	claims, ok := ctx.Value(contextKeyClaims).(*Claims)
	if !ok || claims == nil {
		return nil, errors.New("missing claims in context")
	}
	return claims, nil
}

// RequireRole ensures the authenticated caller has one of the allowed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				http.Error(w, "insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type jwtVerifier struct {
	key      []byte
	issuer   string
	audience []string
	leeway   time.Duration
	now      func() time.Time
}

// Verify checks signature, issuer, audience and lifetime and returns the subject.
func (v *jwtVerifier) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token validation failed")
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token subject missing")
	}
	tokenAud, err := claims.GetAudience()
	if err != nil {
		return "", err
	}
	for _, expected := range v.audience {
		for _, actual := range tokenAud {
			if strings.EqualFold(actual, expected) {
				return subject, nil
			}
		}
	}
	return "", fmt.Errorf("token audience mismatch")
}
