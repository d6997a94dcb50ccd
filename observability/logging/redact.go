package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveKeys never reach the sink in clear text.
var sensitiveKeys = map[string]struct{}{
	"authorization":  {},
	"token":          {},
	"jwt":            {},
	"secret":         {},
	"signer_key":     {},
	"internal_token": {},
	"signature":      {},
	"db_url":         {},
	"redis_url":      {},
}

// IsSensitive reports whether the provided key is masked automatically.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// Redact masks the value of sensitive string attributes. Empty values are left
// alone to avoid introducing noise in logs.
func Redact(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
