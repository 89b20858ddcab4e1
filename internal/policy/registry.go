// Package policy holds the closed-world application registry and the pure
// access predicates evaluated on every request. Nothing here performs I/O.
package policy

import (
	"fmt"
	"net/url"
	"strings"

	"artel.org/internal/identity"
)

// Application describes one deployed application sharing the user directory.
type Application struct {
	Name         string
	BaseURL      string
	AllowedRoles map[identity.Role]struct{}
	Public       bool
}

// Allows reports whether the role may access this application.
func (a Application) Allows(role identity.Role) bool {
	_, ok := a.AllowedRoles[role]
	return ok
}

// Registry is the static set of applications for a deployment. Applications
// not present in the registry are always denied: the world is closed.
type Registry struct {
	apps    map[string]Application
	primary map[identity.Role]string
}

// AppConfig is the construction-time description of one application.
type AppConfig struct {
	Name         string
	BaseURL      string
	AllowedRoles []identity.Role
	Public       bool
}

// NewRegistry builds a registry and validates that every enumerated role has
// exactly one primary application. A missing mapping is a configuration
// error, not a runtime fallback.
func NewRegistry(apps []AppConfig, primary map[identity.Role]string) (*Registry, error) {
	if len(apps) == 0 {
		return nil, fmt.Errorf("registry requires at least one application")
	}
	byName := make(map[string]Application, len(apps))
	for _, cfg := range apps {
		name := strings.ToLower(strings.TrimSpace(cfg.Name))
		if name == "" {
			return nil, fmt.Errorf("application name is required")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("duplicate application %q", name)
		}
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("application %q: invalid base url %q", name, cfg.BaseURL)
		}
		allowed := make(map[identity.Role]struct{}, len(cfg.AllowedRoles))
		for _, role := range cfg.AllowedRoles {
			allowed[role] = struct{}{}
		}
		byName[name] = Application{
			Name:         name,
			BaseURL:      strings.TrimRight(cfg.BaseURL, "/"),
			AllowedRoles: allowed,
			Public:       cfg.Public,
		}
	}
	for _, role := range identity.Roles {
		appName, ok := primary[role]
		if !ok {
			return nil, fmt.Errorf("role %q has no primary application", role)
		}
		app, ok := byName[strings.ToLower(appName)]
		if !ok {
			return nil, fmt.Errorf("role %q: primary application %q is not registered", role, appName)
		}
		if !app.Allows(role) {
			return nil, fmt.Errorf("role %q: primary application %q does not allow it", role, appName)
		}
	}
	normalized := make(map[identity.Role]string, len(primary))
	for role, appName := range primary {
		normalized[role] = strings.ToLower(strings.TrimSpace(appName))
	}
	return &Registry{apps: byName, primary: normalized}, nil
}

// App returns the descriptor for a registered application name.
func (r *Registry) App(name string) (Application, bool) {
	app, ok := r.apps[strings.ToLower(strings.TrimSpace(name))]
	return app, ok
}

// Apps returns every registered application.
func (r *Registry) Apps() []Application {
	out := make([]Application, 0, len(r.apps))
	for _, app := range r.apps {
		out = append(out, app)
	}
	return out
}

// AppAccess reports whether the role may access the named application.
// Unknown application names are denied.
func (r *Registry) AppAccess(role identity.Role, appName string) bool {
	app, ok := r.App(appName)
	if !ok {
		return false
	}
	return app.Allows(role)
}

// PrimaryApplication returns the home application for a role. The mapping is
// validated total at construction, so an error here means the registry was
// built outside NewRegistry.
func (r *Registry) PrimaryApplication(role identity.Role) (Application, error) {
	name, ok := r.primary[role]
	if !ok {
		return Application{}, fmt.Errorf("role %q has no primary application", role)
	}
	app, ok := r.apps[name]
	if !ok {
		return Application{}, fmt.Errorf("primary application %q is not registered", name)
	}
	return app, nil
}

// DefaultRegistry is the deployment registry for the platform's three
// applications.
func DefaultRegistry(storefrontURL, studioURL, adminURL string) (*Registry, error) {
	return NewRegistry(
		[]AppConfig{
			{
				Name:    "storefront",
				BaseURL: storefrontURL,
				Public:  true,
				AllowedRoles: []identity.Role{
					identity.RoleCustomer,
					identity.RoleArtist,
					identity.RoleAdmin,
					identity.RoleOperator,
					identity.RoleSocialWorker,
					identity.RoleService,
				},
			},
			{
				Name:    "studio",
				BaseURL: studioURL,
				AllowedRoles: []identity.Role{
					identity.RoleArtist,
					identity.RoleAdmin,
				},
			},
			{
				Name:    "admin",
				BaseURL: adminURL,
				AllowedRoles: []identity.Role{
					identity.RoleAdmin,
					identity.RoleOperator,
				},
			},
		},
		map[identity.Role]string{
			identity.RoleCustomer:     "storefront",
			identity.RoleService:      "storefront",
			identity.RoleSocialWorker: "storefront",
			identity.RoleArtist:       "studio",
			identity.RoleAdmin:        "admin",
			identity.RoleOperator:     "admin",
		},
	)
}
