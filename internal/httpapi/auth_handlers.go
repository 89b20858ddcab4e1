package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"artel.org/internal/audit"
	"artel.org/internal/identity"
	"artel.org/internal/obs"
	"artel.org/internal/ratelimit"
	"artel.org/internal/token"
)

const (
	accessCookieName  = "artel_access"
	refreshCookieName = "artel_refresh"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	App      string `json:"app,omitempty"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func userFromIdentity(id *identity.Identity) userPayload {
	return userPayload{ID: id.ID, Email: id.Email, Name: id.Name, Role: string(id.Role)}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "email and password are required")
		return
	}
	app := strings.TrimSpace(req.App)
	if app == "" {
		app = a.app
	}

	// Narrow key per account plus a broad key per client, both on the
	// login profile, so neither an account spray nor a single-IP brute
	// force slips through.
	lim := a.profiles.Get(ratelimit.ProfileLogin)
	if lim != nil {
		for _, key := range []string{"email:" + email, "ip:" + clientIP(r)} {
			d := lim.Allow(r.Context(), key)
			setRateHeaders(w, d)
			if !d.Allowed {
				a.events.Emit(r.Context(), audit.EventRateLimited, map[string]any{
					"profile": ratelimit.ProfileLogin,
					"key":     key,
				})
				writeError(w, r, http.StatusTooManyRequests, codeRateLimited, "too many login attempts")
				return
			}
		}
	}

	id, hash, err := a.directory.Credentials(r.Context(), email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			a.events.Emit(r.Context(), audit.EventLoginFailed, map[string]any{"email": email, "reason": "unknown_account"})
			unauthorizedLogin(w, r)
			return
		}
		writeError(w, r, http.StatusInternalServerError, codeInternal, "directory unavailable")
		return
	}
	if err := identity.VerifyPassword(hash, req.Password); err != nil {
		a.events.Emit(r.Context(), audit.EventLoginFailed, map[string]any{"email": email, "reason": "bad_password"})
		unauthorizedLogin(w, r)
		return
	}
	if !id.Active() {
		a.events.Emit(r.Context(), audit.EventLoginFailed, map[string]any{"email": email, "reason": "suspended"})
		writeError(w, r, http.StatusForbidden, codeAccountSuspended, "account is suspended")
		return
	}

	pair, err := a.tokens.Issue(r.Context(), id, app)
	if err != nil {
		if errors.Is(err, token.ErrAccessDenied) {
			a.events.Emit(r.Context(), audit.EventAccessDenied, map[string]any{"email": email, "app": app})
			writeError(w, r, http.StatusForbidden, codeForbidden, "role is not allowed into this application")
			return
		}
		writeError(w, r, http.StatusInternalServerError, codeInternal, "token issuance failed")
		return
	}

	a.setAuthCookies(w, pair)
	a.events.Emit(audit.WithActor(r.Context(), id.ID), audit.EventLogin, map[string]any{
		"email": email,
		"app":   app,
		"role":  string(id.Role),
	})
	writeJSON(w, http.StatusOK, map[string]any{"user": userFromIdentity(id)})
}

func unauthorizedLogin(w http.ResponseWriter, r *http.Request) {
	// Unknown account and wrong password are deliberately identical.
	writeError(w, r, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	c, err := r.Cookie(refreshCookieName)
	if err != nil || c.Value == "" {
		unauthorized(w, r, "missing refresh token")
		return
	}

	pair, id, err := a.tokens.Refresh(r.Context(), c.Value)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrStalePermissions):
			writeError(w, r, http.StatusUnauthorized, codeReauthRequired, "permissions changed, re-authentication required")
		case errors.Is(err, token.ErrUnavailable):
			writeError(w, r, http.StatusInternalServerError, codeInternal, "refresh unavailable")
		default:
			// Expired, replayed, revoked and malformed all end the same
			// way for the caller: log in again.
			unauthorized(w, r, "refresh token rejected")
		}
		return
	}

	a.setAuthCookies(w, pair)
	a.events.Emit(audit.WithActor(r.Context(), id.ID), audit.EventTokenRefresh, map[string]any{
		"role": string(id.Role),
	})
	writeJSON(w, http.StatusOK, map[string]any{"user": userFromIdentity(id)})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	// Cookies are cleared regardless of whether revocation succeeds: a
	// user-initiated logout must never leave possibly-valid tokens behind.
	a.clearAuthCookies(w)

	ctx := r.Context()
	fields := map[string]any{}
	if raw := a.accessTokenFromRequest(r); raw != "" {
		if id, claims, err := a.tokens.Verify(ctx, raw); err == nil {
			ctx = audit.WithActor(ctx, id.ID)
			if err := a.tokens.Revoke(ctx, id.ID, claims.App); err != nil {
				fields["revocation_error"] = err.Error()
			}
			a.events.Emit(ctx, audit.EventLogout, fields)
			writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
			return
		}
	}
	// The access token may already be expired; fall back to the refresh
	// cookie to locate the session.
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		if err := a.tokens.RevokeByRefreshToken(ctx, c.Value); err != nil {
			fields["revocation_error"] = err.Error()
		}
	}
	a.events.Emit(ctx, audit.EventLogout, fields)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := principalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	if !a.requireRecentAuth(w, r, p) {
		return
	}

	a.clearAuthCookies(w)
	if err := a.tokens.RevokeAll(r.Context(), p.identity.ID); err != nil {
		a.logRevocationFailure(r, err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "global logout failed")
		return
	}
	a.events.Emit(r.Context(), audit.EventLogoutAll, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out_everywhere"})
}

func (a *API) logRevocationFailure(r *http.Request, err error) {
	obs.LogRequest(map[string]any{
		"level":      "warn",
		"msg":        "session revocation failed",
		"error":      err.Error(),
		"request_id": RequestIDFromContext(r.Context()),
	})
}

type sessionResponse struct {
	User     userPayload `json:"user"`
	App      string      `json:"app"`
	Redirect *string     `json:"redirect,omitempty"`
}

// handleSession reports the verified identity and, for a given app and path,
// whether the caller belongs somewhere else.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := principalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}

	app := strings.TrimSpace(r.URL.Query().Get("app"))
	if app == "" {
		app = p.claims.App
	}
	path := r.URL.Query().Get("path")

	decision, err := a.registry.DecideRedirect(*p.identity, app, path)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeInternal, "redirect decision failed")
		return
	}
	resp := sessionResponse{User: userFromIdentity(p.identity), App: p.claims.App}
	if decision.Redirect {
		resp.Redirect = &decision.Location
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) setAuthCookies(w http.ResponseWriter, pair token.Pair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(a.tokens.AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/v1/auth",
		MaxAge:   int(a.tokens.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteLaxMode,
	})
}

