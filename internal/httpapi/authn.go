package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fongpn/fmfv6/internal/gate"
)

// withAdminAuth authenticates the bearer token, loads the caller's profile
// and admits only active administrators. The resolved profile is placed on
// the request context for the wrapped handler.
func (a *API) withAdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractBearerToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}

		subject, err := a.identity.VerifyAccessToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		profile, err := a.gate.Profile(r.Context(), subject)
		if err != nil {
			if errors.Is(err, gate.ErrProfileNotFound) {
				writeError(w, r, http.StatusForbidden, "Administrator role required")
				return
			}
			handleGateError(w, r, err)
			return
		}
		if !profile.Active || profile.Role != gate.RoleAdmin {
			writeError(w, r, http.StatusForbidden, "Administrator role required")
			return
		}

		next.ServeHTTP(w, r.WithContext(gate.ContextWithActor(r.Context(), profile)))
	})
}

func extractBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
