package config

import "strings"

// Sanitize returns a copy of the config with secrets masked, for display
// and logging.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg

	enc := &sanitized.Storage.Encryption
	if enc.Key != "" {
		enc.Key = maskSecret(enc.Key)
	}
	if enc.Passphrase != "" {
		enc.Passphrase = maskSecret(enc.Passphrase)
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
