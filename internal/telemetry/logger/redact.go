package logger

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Attribute keys whose values are never logged verbatim.
var sensitiveKeyPatterns = []string{
	"principal",
	"password",
	"secret",
	"token",
	"credential",
	"auth",
}

const redactedValue = "***REDACTED***"

// redactSensitive replaces sensitive attribute values before they reach
// the handler. Byte slices under sensitive keys are reduced to their
// length, and channel URIs lose any userinfo password.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}

	case slog.KindString:
		s := a.Value.String()
		if s == "" {
			return a
		}
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
		if strings.Contains(s, "@") && strings.Contains(s, "://") {
			return slog.String(a.Key, RedactURI(s))
		}

	case slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, RedactBytes(b))
		}
	}
	return a
}

// RedactBytes describes an opaque secret without revealing it.
func RedactBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return fmt.Sprintf("%s (%d bytes)", redactedValue, len(b))
}

// RedactURI masks the password in a URI's userinfo. Strings that do not
// parse as a URI are returned unchanged.
func RedactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	return u.Redacted()
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
