package api

import (
	"crypto/subtle"
	"net/http"
)

// apiKeyHeader is the request header carrying the shared secret.
const apiKeyHeader = "X-Api-Key"

// ValidateAPIKey returns true if providedKey matches configKey.
// If configKey is empty, callers should treat authentication as disabled.
func ValidateAPIKey(providedKey string, configKey string) bool {
	if configKey == "" || providedKey == "" {
		return false
	}
	if len(providedKey) != len(configKey) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(providedKey), []byte(configKey)) == 1
}

// authMiddleware validates the X-Api-Key header against the configured key.
// With no key configured, every request passes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !ValidateAPIKey(r.Header.Get(apiKeyHeader), s.config.APIKey) {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
