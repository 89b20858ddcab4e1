package policy

import (
	"strings"

	"artel.org/internal/identity"
)

// Decision is the outcome of a cross-application redirect check.
type Decision struct {
	Redirect bool   `json:"redirect"`
	Location string `json:"location,omitempty"`
}

// NoRedirect is the neutral decision.
var NoRedirect = Decision{}

// RedirectTo builds a redirecting decision.
func RedirectTo(url string) Decision {
	return Decision{Redirect: true, Location: url}
}

// loginPaths never travel with a redirect: bouncing a user into another
// application's login screen produces a loop.
var loginPaths = []string{"/login", "/signin", "/auth/login"}

// DecideRedirect determines whether an identity visiting currentApp should be
// sent to its primary application instead. Order matters: an identity in its
// home application, or one that is an allowed guest of the current
// application, must never be bounced.
func (r *Registry) DecideRedirect(id identity.Identity, currentApp, currentPath string) (Decision, error) {
	primary, err := r.PrimaryApplication(id.Role)
	if err != nil {
		return NoRedirect, err
	}
	currentApp = strings.ToLower(strings.TrimSpace(currentApp))
	if currentApp == primary.Name {
		return NoRedirect, nil
	}
	if r.AppAccess(id.Role, currentApp) {
		return NoRedirect, nil
	}
	target := primary.BaseURL
	if keepCallbackPath(currentPath) {
		target += currentPath
	}
	return RedirectTo(target), nil
}

func keepCallbackPath(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" || path == "/" {
		return false
	}
	if !strings.HasPrefix(path, "/") {
		return false
	}
	for _, lp := range loginPaths {
		if path == lp || strings.HasPrefix(path, lp+"/") || strings.HasPrefix(path, lp+"?") {
			return false
		}
	}
	return true
}
