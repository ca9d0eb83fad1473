package httpserver

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// TokenPrefix identifies controller-facing bearer tokens, trimmed from the
// teacher's personal-access-token scheme down to a single shared digest
// list: this service's callers are programmatic controllers, not browser
// users with individually revocable tokens, so there is no per-token
// store, expiry, or issuance flow here.
const TokenPrefix = "prov_pat_"

type ctxKey int

const tokenCtxKey ctxKey = 0

// TokenAuth returns middleware that requires a bearer token whose SHA-256
// digest appears in allowedHashes. An empty allowedHashes disables auth
// entirely, matching the teacher's "unset means disabled" convention for
// optional integrations — useful for local/dev runs.
func TokenAuth(allowedHashes []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedHashes))
	for _, h := range allowedHashes {
		allowed[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			raw := bearerToken(r)
			if raw == "" {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			digest := hashToken(raw)
			if !tokenAllowed(allowed, digest) {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), tokenCtxKey, digest)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenAllowed(allowed map[string]struct{}, digest string) bool {
	for h := range allowed {
		if subtle.ConstantTimeCompare([]byte(h), []byte(digest)) == 1 {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
