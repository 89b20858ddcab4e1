// Package httpapi is the HTTP surface of the session and traffic-control
// service: authentication endpoints, the operator control plane and the
// middleware chain shared by every application instance.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"artel.org/internal/audit"
	"artel.org/internal/controlplane"
	"artel.org/internal/identity"
	"artel.org/internal/obs"
	"artel.org/internal/policy"
	"artel.org/internal/ratelimit"
	"artel.org/internal/token"
)

// ReadyProbe checks dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators, constructed once at process start
// and injected. No package-level session state.
type Config struct {
	Version       string
	App           string // application this instance serves
	Environment   string // "production" hardens cookies
	OperatorToken string

	Directory identity.Directory
	Registry  *policy.Registry
	Tokens    *token.Service
	Profiles  *ratelimit.Profiles
	Plane     controlplane.Plane
	Events    audit.Emitter
	Ready     ReadyProbe
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	version    string
	app        string
	production bool
	opToken    string

	directory identity.Directory
	registry  *policy.Registry
	tokens    *token.Service
	profiles  *ratelimit.Profiles
	plane     controlplane.Plane
	events    audit.Emitter
	ready     ReadyProbe
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		version:    cfg.Version,
		app:        strings.ToLower(strings.TrimSpace(cfg.App)),
		production: strings.EqualFold(cfg.Environment, "production"),
		opToken:    cfg.OperatorToken,
		directory:  cfg.Directory,
		registry:   cfg.Registry,
		tokens:     cfg.Tokens,
		profiles:   cfg.Profiles,
		plane:      cfg.Plane,
		events:     cfg.Events,
		ready:      cfg.Ready,
	}
	if a.events == nil {
		a.events = audit.Log{}
	}
	if a.plane == nil {
		a.plane = controlplane.Nop{}
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/logout_all", a.handleLogoutAll)
	a.mux.HandleFunc("/v1/auth/session", a.handleSession)

	a.mux.HandleFunc("/v1/apps", a.handleApps)
	a.mux.HandleFunc("/v1/control/apps", a.handleControlApps)
	a.mux.HandleFunc("/v1/control/apps/", a.handleControlApp)

	a.mux.HandleFunc("/v1/limit/check", a.handleLimitCheck)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = a.withTelemetry(h)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "artel-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "artel-auth",
		"app":     a.app,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- error codes ---

const (
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeAccountSuspended   = "ACCOUNT_SUSPENDED"
	codeRateLimited        = "RATE_LIMIT_EXCEEDED"
	codeUnauthorized       = "UNAUTHORIZED"
	codeForbidden          = "FORBIDDEN"
	codeReauthRequired     = "REAUTH_REQUIRED"
	codeValidation         = "VALIDATION_ERROR"
	codeNotFound           = "NOT_FOUND"
	codeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	codeInternal           = "INTERNAL_ERROR"
)

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}
