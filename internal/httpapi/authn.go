package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"artel.org/internal/audit"
	"artel.org/internal/identity"
	"artel.org/internal/obs"
	"artel.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// recentAuthWindow bounds how old a login may be for sensitive
	// operations before re-authentication is demanded.
	recentAuthWindow = 15 * time.Minute
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/apps",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

type principalCtxKey struct{}

type principal struct {
	identity *identity.Identity
	claims   *token.Claims
}

func contextWithPrincipal(ctx context.Context, p principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, &p)
}

func principalFromContext(ctx context.Context) (principal, bool) {
	v, ok := ctx.Value(principalCtxKey{}).(*principal)
	if !ok || v == nil || v.identity == nil {
		return principal{}, false
	}
	return *v, true
}

// withAuth verifies the caller's access token from the cookie or bearer
// header. The per-application kill switch can disable enforcement entirely;
// control-plane endpoints stay guarded by the operator credential either way.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/v1/control/") {
			// Operator surface authenticates via its own credential.
			next.ServeHTTP(w, r)
			return
		}
		if !a.plane.Enabled(r.Context(), a.app) {
			next.ServeHTTP(w, r)
			return
		}

		raw := a.accessTokenFromRequest(r)
		if raw == "" {
			unauthorized(w, r, "missing access token")
			return
		}
		id, claims, err := a.tokens.Verify(r.Context(), raw)
		if err != nil {
			obs.CountAuthDecision("denied")
			switch {
			case errors.Is(err, token.ErrStalePermissions):
				writeError(w, r, http.StatusUnauthorized, codeReauthRequired, "permissions changed, re-authentication required")
			case errors.Is(err, token.ErrExpired):
				writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "token expired")
			case errors.Is(err, token.ErrRevoked), errors.Is(err, token.ErrInvalidToken), errors.Is(err, token.ErrAccessDenied):
				unauthorized(w, r, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, codeInternal, "authentication error")
			}
			return
		}
		obs.CountAuthDecision("allowed")
		ctx := contextWithPrincipal(r.Context(), principal{identity: id, claims: claims})
		ctx = audit.WithActor(ctx, id.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) accessTokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		if strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
			return strings.TrimSpace(header[len(bearer):])
		}
		return ""
	}
	if c, err := r.Cookie(accessCookieName); err == nil {
		return c.Value
	}
	return ""
}

// RequireRole guards a handler with a role check against the verified
// principal.
func RequireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				unauthorized(w, r, "authentication required")
				return
			}
			if !p.identity.HasAnyRole(roles...) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusForbidden, codeForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireRecentAuth enforces the re-authentication window for sensitive
// operations: a long-lived refreshed session is not enough.
func (a *API) requireRecentAuth(w http.ResponseWriter, r *http.Request, p principal) bool {
	if p.claims == nil || p.claims.AuthTime <= 0 {
		writeError(w, r, http.StatusUnauthorized, codeReauthRequired, "re-authentication required")
		return false
	}
	authTime := time.Unix(p.claims.AuthTime, 0)
	if time.Since(authTime) > recentAuthWindow {
		writeError(w, r, http.StatusUnauthorized, codeReauthRequired, "re-authentication required")
		return false
	}
	return true
}

// requireOperator gates the control plane behind the operator credential,
// deliberately distinct from end-user authentication.
func (a *API) requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if a.opToken == "" {
		writeError(w, r, http.StatusServiceUnavailable, codeInternal, "operator access is not configured")
		return false
	}
	presented := strings.TrimSpace(r.Header.Get("X-Operator-Token"))
	if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(a.opToken)) != 1 {
		a.events.Emit(r.Context(), audit.EventAccessDenied, map[string]any{
			"surface": "control_plane",
			"ip":      clientIP(r),
		})
		unauthorized(w, r, "invalid operator credential")
		return false
	}
	return true
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusUnauthorized, codeUnauthorized, msg)
}
