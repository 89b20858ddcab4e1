package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"artel.org/internal/audit"
	"artel.org/internal/controlplane"
	"artel.org/internal/identity"
)

type appPayload struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Public  bool   `json:"public"`
}

// handleApps exposes the application directory so front ends can render
// cross-application navigation without hardcoding URLs.
func (a *API) handleApps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	apps := a.registry.Apps()
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	out := make([]appPayload, 0, len(apps))
	for _, app := range apps {
		out = append(out, appPayload{Name: app.Name, BaseURL: app.BaseURL, Public: app.Public})
	}
	writeJSON(w, http.StatusOK, map[string]any{"apps": out})
}

type appControlStatus struct {
	Name          string  `json:"name"`
	Enabled       bool    `json:"enabled"`
	OK            int64   `json:"ok"`
	Err           int64   `json:"err"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	WindowMinutes int     `json:"window_minutes"`
}

type flagChangeRequest struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// handleControlApps is the operator surface: read per-application enforcement
// flags and traffic stats, or flip a flag.
func (a *API) handleControlApps(w http.ResponseWriter, r *http.Request) {
	if !a.requireOperator(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.controlAppsStatus(w, r)
	case http.MethodPost:
		a.controlAppsFlip(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) controlAppsStatus(w http.ResponseWriter, r *http.Request) {
	apps := a.registry.Apps()
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	out := make([]appControlStatus, 0, len(apps))
	for _, app := range apps {
		stats := a.plane.Window(r.Context(), app.Name, controlplane.DefaultWindowMinutes)
		out = append(out, appControlStatus{
			Name:          app.Name,
			Enabled:       a.plane.Enabled(r.Context(), app.Name),
			OK:            stats.OK,
			Err:           stats.Err,
			AvgLatencyMs:  stats.AvgLatencyMs,
			WindowMinutes: controlplane.DefaultWindowMinutes,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"apps": out})
}

func (a *API) controlAppsFlip(w http.ResponseWriter, r *http.Request) {
	var req flagChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if _, ok := a.registry.App(name); !ok {
		writeError(w, r, http.StatusNotFound, codeNotFound, "unknown application")
		return
	}
	if err := a.plane.SetEnabled(r.Context(), name, req.Enabled); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, codeInternal, "flag store unavailable")
		return
	}
	a.events.Emit(r.Context(), audit.EventFlagChange, map[string]any{
		"app":     name,
		"enabled": req.Enabled,
	})
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": req.Enabled})
}

// handleControlApp reports one application's flag and traffic window, for
// dashboards polling a single app.
func (a *API) handleControlApp(w http.ResponseWriter, r *http.Request) {
	if !a.requireOperator(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	name := strings.ToLower(strings.TrimPrefix(r.URL.Path, "/v1/control/apps/"))
	app, ok := a.registry.App(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, codeNotFound, "unknown application")
		return
	}
	stats := a.plane.Window(r.Context(), app.Name, controlplane.DefaultWindowMinutes)
	writeJSON(w, http.StatusOK, appControlStatus{
		Name:          app.Name,
		Enabled:       a.plane.Enabled(r.Context(), app.Name),
		OK:            stats.OK,
		Err:           stats.Err,
		AvgLatencyMs:  stats.AvgLatencyMs,
		WindowMinutes: controlplane.DefaultWindowMinutes,
	})
}

type limitCheckRequest struct {
	Profile string `json:"profile"`
	Key     string `json:"key"`
}

// handleLimitCheck lets backend services consume one unit from a named
// profile, so checkout or payout flows in other services share the same
// thresholds as this one.
func (a *API) handleLimitCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := principalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	if !p.identity.HasAnyRole(identity.RoleService, identity.RoleAdmin, identity.RoleOperator) {
		writeError(w, r, http.StatusForbidden, codeForbidden, "insufficient role")
		return
	}

	var req limitCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	profile := strings.ToLower(strings.TrimSpace(req.Profile))
	key := strings.TrimSpace(req.Key)
	if key == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "key is required")
		return
	}
	lim := a.profiles.Get(profile)
	if lim == nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "unknown profile")
		return
	}

	d := lim.Allow(r.Context(), key)
	setRateHeaders(w, d)
	if !d.Allowed {
		a.events.Emit(r.Context(), audit.EventRateLimited, map[string]any{
			"profile": profile,
			"key":     key,
		})
		writeError(w, r, http.StatusTooManyRequests, codeRateLimited, "limit exceeded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":   true,
		"limit":     d.Limit,
		"remaining": d.Remaining,
		"reset_at":  d.ResetAt,
	})
}
