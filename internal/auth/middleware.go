package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dataferry/internal/response"
)

type Config struct {
	APIKey string
	// Exempt lists paths served without a key, such as health probes.
	Exempt []string
}

type ErrorResponse = response.ErrorBody

// APIKeyMiddleware validates API key authentication
func APIKeyMiddleware(config *Config) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth if no API key configured (for development)
			if config.APIKey == "" || config.exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && config.matches(token) {
				next.ServeHTTP(w, r)
				return
			}

			if config.matches(r.Header.Get("X-API-Key")) {
				next.ServeHTTP(w, r)
				return
			}

			writeUnauthorized(w)
		})
	}
}

func (c *Config) matches(key string) bool {
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(c.APIKey)) == 1
}

func (c *Config) exempt(path string) bool {
	for _, p := range c.Exempt {
		if p == path {
			return true
		}
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter) {
	response.Error(
		"unauthorized",
		"Invalid or missing API key",
		"Provide API key via Authorization: Bearer <key> or X-API-Key: <key>",
	).WriteError(w, http.StatusUnauthorized)
}
