package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sukl/internal/logging"
)

// APIKeyAuth guards the wrapped routes with a shared key sent as X-API-Key
// or as an "Authorization: Bearer" token. With required false every request
// passes. With required true and no keys every request is rejected.
func APIKeyAuth(required bool, keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !required {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := presentedKey(r)
			status, code, msg := 0, "", ""
			switch {
			case key == "":
				status, code, msg = http.StatusUnauthorized, "AUTH001", "missing API key"
			case !matchesAny(key, keys):
				status, code, msg = http.StatusForbidden, "AUTH002", "invalid API key"
			default:
				next.ServeHTTP(w, r)
				return
			}

			logging.FromContext(r.Context()).Warn("auth: "+msg,
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			authError(w, status, msg, code)
		})
	}
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	const prefix = "bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func authError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   msg,
		"message": msg,
		"action":  "Send a configured key in the X-API-Key header",
		"code":    code,
	})
}

// matchesAny compares key against every configured key in constant time.
func matchesAny(key string, keys []string) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare([]byte(key), []byte(k))
	}
	return match == 1
}
