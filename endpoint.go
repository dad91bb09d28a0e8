package forge

import (
	"net/url"

	"github.com/adamwoolhether/forge/client"
)

// APIVersion prefixes the path of every versioned endpoint.
const APIVersion = "/v1"

// Endpoint describes one API operation.
type Endpoint struct {
	Name         string
	Path         string
	Version      string
	AuthRequired bool
}

// URL resolves the endpoint against base.
func (e Endpoint) URL(base *url.URL) *url.URL {
	return client.URL(base, e.Version+e.Path)
}

var (
	Login           = Endpoint{Name: "login", Path: "/auth/login", Version: APIVersion}
	Signup          = Endpoint{Name: "signup", Path: "/auth/signup", Version: APIVersion}
	SocialLogin     = Endpoint{Name: "social-login", Path: "/auth/social-login", Version: APIVersion}
	Logout          = Endpoint{Name: "logout", Path: "/auth/logout", Version: APIVersion, AuthRequired: true}
	ChangePassword  = Endpoint{Name: "change-password", Path: "/auth/change-password", Version: APIVersion, AuthRequired: true}
	ForgotPassword  = Endpoint{Name: "forgot-password", Path: "/auth/forgot-password", Version: APIVersion}
	ResetPassword   = Endpoint{Name: "reset-password", Path: "/auth/reset-password", Version: APIVersion}
	RefreshToken    = Endpoint{Name: "refresh-token", Path: "/auth/refresh-token", Version: APIVersion}
	EventsSubscribe = Endpoint{Name: "events-subscribe", Path: "/sse/subscribe", Version: APIVersion, AuthRequired: true}
	EventsChanges   = Endpoint{Name: "events-changes", Path: "/sse/changes", AuthRequired: true}
)
