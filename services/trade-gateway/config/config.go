package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileEnv names the optional TOML file supplying defaults. Keys in the file
// are the environment names without the TRADE_ prefix, lower-cased
// (TRADE_DB_URL becomes db_url). Environment variables win over the file.
const FileEnv = "TRADE_CONFIG_FILE"

// Config represents runtime configuration for the trade gateway service.
type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	Auth        AuthConfig
	Signer      SignerConfig
	Chain       string
	Ledger      LedgerConfig
	Reconcile   ReconcileConfig
	RedisURL    string
	FeeKey      string
	Telemetry   TelemetryConfig
	LogFile     string
}

// AuthConfig controls bearer token verification and role assignment.
type AuthConfig struct {
	HSSecret       string
	Issuer         string
	Audience       []string
	MaxSkewSeconds int
	AdminSubjects  []string
	InternalToken  string
}

// SignerConfig selects the claim authorization key.
type SignerConfig struct {
	Scheme string
	KeyHex string
}

// LedgerConfig tunes the ledger RPC client.
type LedgerConfig struct {
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// ReconcileConfig drives the background scan.
type ReconcileConfig struct {
	Enabled  bool
	Interval time.Duration
	LockTTL  time.Duration
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string
	Insecure bool
	Headers  string
	Metrics  bool
	Traces   bool
}

// FromEnv loads configuration from environment variables, falling back to
// the TOML file named by TRADE_CONFIG_FILE when present.
func FromEnv() (*Config, error) {
	src, err := newSource(os.Getenv(FileEnv))
	if err != nil {
		return nil, err
	}
	return load(src)
}

func load(src source) (*Config, error) {
	cfg := &Config{
		Port:        src.getDefault("TRADE_PORT", "8080"),
		Environment: src.getDefault("TRADE_ENV", "development"),
		DatabaseURL: strings.TrimSpace(src.get("TRADE_DB_URL")),
		Chain:       strings.TrimSpace(src.get("TRADE_CHAIN")),
		RedisURL:    strings.TrimSpace(src.get("TRADE_REDIS_URL")),
		FeeKey:      src.getDefault("TRADE_FEE_SETTING_KEY", "rentFee"),
		LogFile:     strings.TrimSpace(src.get("TRADE_LOG_FILE")),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("TRADE_DB_URL is required")
	}
	if cfg.Chain == "" {
		return nil, fmt.Errorf("TRADE_CHAIN is required")
	}

	cfg.Auth = AuthConfig{
		HSSecret:      strings.TrimSpace(src.get("TRADE_JWT_SECRET")),
		Issuer:        strings.TrimSpace(src.get("TRADE_JWT_ISSUER")),
		Audience:      parseCSV(src.get("TRADE_JWT_AUDIENCE")),
		AdminSubjects: parseCSV(src.get("TRADE_ADMIN_SUBJECTS")),
		InternalToken: strings.TrimSpace(src.get("TRADE_INTERNAL_TOKEN")),
	}
	if cfg.Auth.HSSecret == "" {
		return nil, fmt.Errorf("TRADE_JWT_SECRET is required")
	}
	if cfg.Auth.Issuer == "" {
		return nil, fmt.Errorf("TRADE_JWT_ISSUER is required")
	}
	if len(cfg.Auth.Audience) == 0 {
		return nil, fmt.Errorf("TRADE_JWT_AUDIENCE is required")
	}
	skew, err := src.parseInt("TRADE_JWT_MAX_SKEW_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	if skew < 0 {
		return nil, fmt.Errorf("TRADE_JWT_MAX_SKEW_SECONDS must be non-negative")
	}
	cfg.Auth.MaxSkewSeconds = skew

	cfg.Signer = SignerConfig{
		Scheme: strings.ToLower(src.getDefault("TRADE_SIGNER_SCHEME", "ed25519")),
		KeyHex: strings.TrimSpace(src.get("TRADE_SIGNER_KEY")),
	}
	if cfg.Signer.KeyHex == "" {
		return nil, fmt.Errorf("TRADE_SIGNER_KEY is required")
	}
	switch cfg.Signer.Scheme {
	case "ed25519", "secp256k1":
	default:
		return nil, fmt.Errorf("TRADE_SIGNER_SCHEME %q is not supported", cfg.Signer.Scheme)
	}

	if cfg.Ledger.Timeout, err = src.parseDuration("TRADE_LEDGER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Ledger.RateLimit, err = src.parseFloat("TRADE_LEDGER_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.Ledger.Burst, err = src.parseInt("TRADE_LEDGER_BURST", 1); err != nil {
		return nil, err
	}
	if cfg.Ledger.RateLimit <= 0 || cfg.Ledger.Burst <= 0 {
		return nil, fmt.Errorf("ledger rate limit and burst must be positive")
	}

	if cfg.Reconcile.Enabled, err = src.parseBool("TRADE_RECONCILE_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.Reconcile.Interval, err = src.parseDuration("TRADE_RECONCILE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Reconcile.LockTTL, err = src.parseDuration("TRADE_RECONCILE_LOCK_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Reconcile.Interval <= 0 {
		return nil, fmt.Errorf("TRADE_RECONCILE_INTERVAL must be positive")
	}

	cfg.Telemetry = TelemetryConfig{
		Endpoint: strings.TrimSpace(src.get("TRADE_OTEL_ENDPOINT")),
		Headers:  src.get("TRADE_OTEL_HEADERS"),
	}
	if cfg.Telemetry.Insecure, err = src.parseBool("TRADE_OTEL_INSECURE", false); err != nil {
		return nil, err
	}
	enabled := cfg.Telemetry.Endpoint != ""
	if cfg.Telemetry.Metrics, err = src.parseBool("TRADE_OTEL_METRICS", enabled); err != nil {
		return nil, err
	}
	if cfg.Telemetry.Traces, err = src.parseBool("TRADE_OTEL_TRACES", enabled); err != nil {
		return nil, err
	}
	return cfg, nil
}

// source resolves a key from the environment first and the file second.
type source struct {
	env  func(string) (string, bool)
	file map[string]string
}

func newSource(path string) (source, error) {
	src := source{env: os.LookupEnv, file: map[string]string{}}
	path = strings.TrimSpace(path)
	if path == "" {
		return src, nil
	}
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return src, fmt.Errorf("read %s: %w", path, err)
	}
	for key, value := range raw {
		src.file[strings.ToLower(key)] = flatten(value)
	}
	return src, nil
}

func flatten(value any) string {
	switch v := value.(type) {
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

func (s source) get(key string) string {
	if v, ok := s.env(key); ok {
		return v
	}
	return s.file[strings.ToLower(strings.TrimPrefix(key, "TRADE_"))]
}

func (s source) getDefault(key, fallback string) string {
	if v := strings.TrimSpace(s.get(key)); v != "" {
		return v
	}
	return fallback
}

func (s source) parseInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(s.get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func (s source) parseFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(s.get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func (s source) parseBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(s.get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func (s source) parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(s.get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
