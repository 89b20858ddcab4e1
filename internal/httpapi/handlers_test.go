package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"artel.org/internal/controlplane"
	"artel.org/internal/identity"
	"artel.org/internal/policy"
	"artel.org/internal/ratelimit"
	"artel.org/internal/token"
)

const testPassword = "correct-horse-battery"

var (
	hashOnce     sync.Once
	passwordHash string
)

func testHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := identity.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		passwordHash = h
	})
	return passwordHash
}

// stubPlane is an in-memory control plane with scripted stats.
type stubPlane struct {
	mu       sync.Mutex
	disabled map[string]bool
	stats    controlplane.Stats
	recorded int
}

func newStubPlane() *stubPlane {
	return &stubPlane{
		disabled: make(map[string]bool),
		stats:    controlplane.Stats{OK: 10, Err: 1, AvgLatencyMs: 12.5},
	}
}

func (p *stubPlane) Enabled(ctx context.Context, app string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disabled[app]
}

func (p *stubPlane) SetEnabled(ctx context.Context, app string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled[app] = !enabled
	return nil
}

func (p *stubPlane) RecordOutcome(ctx context.Context, app string, ok bool, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded++
}

func (p *stubPlane) Window(ctx context.Context, app string, minutes int) controlplane.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

type fixture struct {
	api     *API
	handler http.Handler
	dir     *identity.MemDirectory
	tokens  *token.Service
	plane   *stubPlane
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	dir := identity.NewMemDirectory()
	hash := testHash(t)
	dir.Put(identity.Identity{ID: "u-cust", Email: "alice@example.com", Name: "Alice", Role: identity.RoleCustomer, Status: identity.StatusActive, PermissionsVersion: 1}, hash)
	dir.Put(identity.Identity{ID: "u-admin", Email: "root@example.com", Name: "Root", Role: identity.RoleAdmin, Status: identity.StatusActive, PermissionsVersion: 1}, hash)
	dir.Put(identity.Identity{ID: "u-susp", Email: "sam@example.com", Name: "Sam", Role: identity.RoleCustomer, Status: identity.StatusSuspended, PermissionsVersion: 1}, hash)
	dir.Put(identity.Identity{ID: "u-svc", Email: "svc@example.com", Name: "Backend", Role: identity.RoleService, Status: identity.StatusActive, PermissionsVersion: 1}, hash)

	registry, err := policy.DefaultRegistry(
		"https://shop.example.com",
		"https://studio.example.com",
		"https://admin.example.com",
	)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	tokens, err := token.NewService(dir, registry, token.NewMemoryStore(), "test-signing-secret")
	if err != nil {
		t.Fatalf("build token service: %v", err)
	}

	plane := newStubPlane()
	cfg := Config{
		Version:       "test",
		App:           "storefront",
		OperatorToken: "op-secret",
		Directory:     dir,
		Registry:      registry,
		Tokens:        tokens,
		Profiles:      ratelimit.NewMemoryProfiles(100),
		Plane:         plane,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	tokens = cfg.Tokens

	api := New(cfg)
	return &fixture{api: api, handler: api.Handler(), dir: dir, tokens: tokens, plane: plane}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func postJSON(t *testing.T, target string, body any) *http.Request {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func responseCookie(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// login authenticates and returns the issued cookie pair.
func (f *fixture) login(t *testing.T, email, app string) (access, refresh *http.Cookie) {
	t.Helper()
	rr := f.do(postJSON(t, "/v1/auth/login", map[string]string{
		"email": email, "password": testPassword, "app": app,
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body %s", email, rr.Code, rr.Body.String())
	}
	access = responseCookie(t, rr, accessCookieName)
	refresh = responseCookie(t, rr, refreshCookieName)
	if access == nil || refresh == nil {
		t.Fatalf("login %s: missing auth cookies", email)
	}
	return access, refresh
}

func TestLoginSetsSessionCookies(t *testing.T) {
	f := newFixture(t)

	rr := f.do(postJSON(t, "/v1/auth/login", map[string]string{
		"email": "alice@example.com", "password": testPassword,
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	body := decodeBody(t, rr)
	user, _ := body["user"].(map[string]any)
	if user == nil || user["role"] != "customer" || user["email"] != "alice@example.com" {
		t.Fatalf("unexpected user payload: %v", body)
	}

	access := responseCookie(t, rr, accessCookieName)
	if access == nil || !access.HttpOnly || access.Path != "/" {
		t.Fatalf("access cookie = %+v", access)
	}
	if access.Secure {
		t.Fatal("access cookie must not be Secure outside production")
	}
	refresh := responseCookie(t, rr, refreshCookieName)
	if refresh == nil || !refresh.HttpOnly || refresh.Path != "/v1/auth" {
		t.Fatalf("refresh cookie = %+v", refresh)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("X-RateLimit-Limit = %q, want 5", got)
	}
}

func TestLoginProductionHardensCookies(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Environment = "production" })
	access, refresh := f.login(t, "alice@example.com", "")
	if !access.Secure || !refresh.Secure {
		t.Fatal("production cookies must be Secure")
	}
}

func TestLoginBadCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)

	wrongPassword := f.do(postJSON(t, "/v1/auth/login", map[string]string{
		"email": "alice@example.com", "password": "nope",
	}))
	unknownAccount := f.do(postJSON(t, "/v1/auth/login", map[string]string{
		"email": "ghost@example.com", "password": "nope",
	}))

	for _, rr := range []*httptest.ResponseRecorder{wrongPassword, unknownAccount} {
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
		body := decodeBody(t, rr)
		if body["code"] != codeInvalidCredentials {
			t.Fatalf("code = %v, want %s", body["code"], codeInvalidCredentials)
		}
	}
	// Same message for both: a probe must not learn which emails exist.
	if decodeBody(t, wrongPassword)["error"] != decodeBody(t, unknownAccount)["error"] {
		t.Fatal("error messages differ between unknown account and bad password")
	}
}

func TestLoginSuspendedAccount(t *testing.T) {
	f := newFixture(t)
	rr := f.do(postJSON(t, "/v1/auth/login", map[string]string{
		"email": "sam@example.com", "password": testPassword,
	}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if decodeBody(t, rr)["code"] != codeAccountSuspended {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestLoginRoleNotAllowedInApplication(t *testing.T) {
	f := newFixture(t)
	rr := f.do(postJSON(t, "/v1/auth/login", map[string]string{
		"email": "alice@example.com", "password": testPassword, "app": "admin",
	}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if decodeBody(t, rr)["code"] != codeForbidden {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		rr := f.do(postJSON(t, "/v1/auth/login", map[string]string{
			"email": "alice@example.com", "password": "wrong",
		}))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, rr.Code)
		}
	}

	rr := f.do(postJSON(t, "/v1/auth/login", map[string]string{
		"email": "alice@example.com", "password": testPassword,
	}))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if decodeBody(t, rr)["code"] != codeRateLimited {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	f := newFixture(t)
	_, refresh := f.login(t, "alice@example.com", "")

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(refresh)
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: status = %d, body %s", rr.Code, rr.Body.String())
	}
	rotated := responseCookie(t, rr, refreshCookieName)
	if rotated == nil || rotated.Value == refresh.Value {
		t.Fatal("refresh token was not rotated")
	}

	// The consumed token is single-use.
	replay := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	replay.AddCookie(refresh)
	rr = f.do(replay)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replay: status = %d, want 401", rr.Code)
	}

	// The rotated token still works.
	next := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	next.AddCookie(rotated)
	if rr := f.do(next); rr.Code != http.StatusOK {
		t.Fatalf("rotated refresh: status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	f := newFixture(t)
	rr := f.do(httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRefreshAfterPermissionsChange(t *testing.T) {
	f := newFixture(t)
	_, refresh := f.login(t, "alice@example.com", "")

	f.dir.BumpPermissions("u-cust")

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(refresh)
	rr := f.do(req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if decodeBody(t, rr)["code"] != codeReauthRequired {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestSessionReportsRedirect(t *testing.T) {
	f := newFixture(t)
	access, _ := f.login(t, "alice@example.com", "")

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/session?app=studio&path=/dashboard", nil)
	req.AddCookie(access)
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["redirect"] != "https://shop.example.com/dashboard" {
		t.Fatalf("redirect = %v", body["redirect"])
	}

	// In the caller's own application no redirect is issued.
	req = httptest.NewRequest(http.MethodGet, "/v1/auth/session?app=storefront", nil)
	req.AddCookie(access)
	rr = f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if _, present := decodeBody(t, rr)["redirect"]; present {
		t.Fatal("unexpected redirect in home application")
	}
}

func TestSessionRequiresAuthentication(t *testing.T) {
	f := newFixture(t)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/auth/session", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestLogoutClearsCookiesAndRevokesSession(t *testing.T) {
	f := newFixture(t)
	access, refresh := f.login(t, "alice@example.com", "")

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.AddCookie(access)
	req.AddCookie(refresh)
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: status = %d, body %s", rr.Code, rr.Body.String())
	}
	for _, name := range []string{accessCookieName, refreshCookieName} {
		c := responseCookie(t, rr, name)
		if c == nil || c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %s not cleared: %+v", name, c)
		}
	}

	// The revoked session's refresh token is dead.
	replay := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	replay.AddCookie(refresh)
	if rr := f.do(replay); rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: status = %d, want 401", rr.Code)
	}
}

func TestLogoutWithExpiredAccessToken(t *testing.T) {
	f := newFixture(t)
	_, refresh := f.login(t, "alice@example.com", "")

	// No access cookie at all; revocation must still find the session via
	// the refresh token.
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.AddCookie(refresh)
	if rr := f.do(req); rr.Code != http.StatusOK {
		t.Fatalf("logout: status = %d", rr.Code)
	}

	replay := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	replay.AddCookie(refresh)
	if rr := f.do(replay); rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: status = %d, want 401", rr.Code)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	f := newFixture(t)
	access, refreshAdmin := f.login(t, "root@example.com", "admin")
	_, refreshShop := f.login(t, "root@example.com", "storefront")

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout_all", nil)
	req.AddCookie(access)
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout_all: status = %d, body %s", rr.Code, rr.Body.String())
	}

	for _, c := range []*http.Cookie{refreshAdmin, refreshShop} {
		replay := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
		replay.AddCookie(c)
		if rr := f.do(replay); rr.Code != http.StatusUnauthorized {
			t.Fatalf("refresh after logout_all: status = %d, want 401", rr.Code)
		}
	}
}

func TestLogoutAllDemandsRecentAuthentication(t *testing.T) {
	dir := identity.NewMemDirectory()
	dir.Put(identity.Identity{ID: "u-old", Email: "old@example.com", Name: "Old", Role: identity.RoleCustomer, Status: identity.StatusActive, PermissionsVersion: 1}, testHash(t))
	registry, err := policy.DefaultRegistry("https://shop.example.com", "https://studio.example.com", "https://admin.example.com")
	if err != nil {
		t.Fatal(err)
	}
	// A clock one hour in the past makes the login old while keeping the
	// access token verifiable: the service validates expiry against the
	// same clock it signs with.
	stale, err := token.NewService(dir, registry, token.NewMemoryStore(), "test-signing-secret",
		token.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	if err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, func(cfg *Config) {
		cfg.Directory = dir
		cfg.Registry = registry
		cfg.Tokens = stale
	})
	access, _ := f.login(t, "old@example.com", "")

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout_all", nil)
	req.AddCookie(access)
	rr := f.do(req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if decodeBody(t, rr)["code"] != codeReauthRequired {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestPublicAppDirectory(t *testing.T) {
	f := newFixture(t)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/apps", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	apps, _ := body["apps"].([]any)
	if len(apps) != 3 {
		t.Fatalf("apps = %v", body)
	}
	first, _ := apps[0].(map[string]any)
	if first["name"] != "admin" {
		t.Fatalf("apps not sorted by name: %v", apps)
	}
}

func TestControlPlaneRequiresOperatorToken(t *testing.T) {
	f := newFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/control/apps", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/control/apps", nil)
	req.Header.Set("X-Operator-Token", "wrong")
	if rr := f.do(req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", rr.Code)
	}
}

func TestControlPlaneUnconfiguredOperator(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.OperatorToken = "" })
	req := httptest.NewRequest(http.MethodGet, "/v1/control/apps", nil)
	req.Header.Set("X-Operator-Token", "anything")
	rr := f.do(req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestControlAppsStatus(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/control/apps", nil)
	req.Header.Set("X-Operator-Token", "op-secret")
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	apps, _ := body["apps"].([]any)
	if len(apps) != 3 {
		t.Fatalf("apps = %v", body)
	}
	first, _ := apps[0].(map[string]any)
	if first["name"] != "admin" || first["enabled"] != true {
		t.Fatalf("first app = %v", first)
	}
	if first["ok"] != float64(10) || first["err"] != float64(1) || first["avg_latency_ms"] != 12.5 {
		t.Fatalf("stats = %v", first)
	}
	if first["window_minutes"] != float64(controlplane.DefaultWindowMinutes) {
		t.Fatalf("window_minutes = %v", first["window_minutes"])
	}
}

func TestControlFlagFlip(t *testing.T) {
	f := newFixture(t)

	req := postJSON(t, "/v1/control/apps", map[string]any{"name": "storefront", "enabled": false})
	req.Header.Set("X-Operator-Token", "op-secret")
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("flip: status = %d, body %s", rr.Code, rr.Body.String())
	}
	if f.plane.Enabled(context.Background(), "storefront") {
		t.Fatal("flag not flipped")
	}

	req = postJSON(t, "/v1/control/apps", map[string]any{"name": "bazaar", "enabled": false})
	req.Header.Set("X-Operator-Token", "op-secret")
	if rr := f.do(req); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown app: status = %d, want 404", rr.Code)
	}
}

func TestControlSingleAppStatus(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/control/apps/studio", nil)
	req.Header.Set("X-Operator-Token", "op-secret")
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["name"] != "studio" || body["enabled"] != true {
		t.Fatalf("body = %v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/control/apps/bazaar", nil)
	req.Header.Set("X-Operator-Token", "op-secret")
	if rr := f.do(req); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown app: status = %d, want 404", rr.Code)
	}
}

func TestKillSwitchBypassesAuthentication(t *testing.T) {
	f := newFixture(t)

	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	})
	h := f.api.withAuth(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/limit/check", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if reached || rr.Code != http.StatusUnauthorized {
		t.Fatalf("enforcement on: reached = %v, status = %d", reached, rr.Code)
	}

	if err := f.plane.SetEnabled(context.Background(), "storefront", false); err != nil {
		t.Fatal(err)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if !reached || rr.Code != http.StatusNoContent {
		t.Fatalf("enforcement off: reached = %v, status = %d", reached, rr.Code)
	}
}

func TestLimitCheck(t *testing.T) {
	f := newFixture(t)
	access, _ := f.login(t, "svc@example.com", "")

	var last *httptest.ResponseRecorder
	for i := 0; i < 10; i++ {
		req := postJSON(t, "/v1/limit/check", map[string]string{"profile": "checkout", "key": "order:77"})
		req.AddCookie(access)
		last = f.do(req)
		if last.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d, body %s", i+1, last.Code, last.Body.String())
		}
	}
	if decodeBody(t, last)["remaining"] != float64(0) {
		t.Fatalf("remaining = %v", decodeBody(t, last)["remaining"])
	}

	req := postJSON(t, "/v1/limit/check", map[string]string{"profile": "checkout", "key": "order:77"})
	req.AddCookie(access)
	rr := f.do(req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	// A different key on the same profile is unaffected.
	req = postJSON(t, "/v1/limit/check", map[string]string{"profile": "checkout", "key": "order:78"})
	req.AddCookie(access)
	if rr := f.do(req); rr.Code != http.StatusOK {
		t.Fatalf("independent key: status = %d", rr.Code)
	}
}

func TestLimitCheckRequiresPrivilegedRole(t *testing.T) {
	f := newFixture(t)
	access, _ := f.login(t, "alice@example.com", "")

	req := postJSON(t, "/v1/limit/check", map[string]string{"profile": "checkout", "key": "order:1"})
	req.AddCookie(access)
	rr := f.do(req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestLimitCheckUnknownProfile(t *testing.T) {
	f := newFixture(t)
	access, _ := f.login(t, "svc@example.com", "")

	req := postJSON(t, "/v1/limit/check", map[string]string{"profile": "teleport", "key": "k"})
	req.AddCookie(access)
	rr := f.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestBearerHeaderAccepted(t *testing.T) {
	f := newFixture(t)
	access, _ := f.login(t, "alice@example.com", "")

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+access.Value)
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
	if got := rr.Header().Get("Allow"); got != http.MethodPost {
		t.Fatalf("Allow = %q", got)
	}
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rr := f.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("X-Request-Id = %q", got)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}

	// Generated when absent.
	rr = f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id not generated")
	}
}

func TestUnknownPathReturnsJSON404(t *testing.T) {
	f := newFixture(t)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/nothing-here", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
}
