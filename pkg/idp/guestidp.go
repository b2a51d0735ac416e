// Package idp implements the authentication-request lifecycle of the
// guest identity provider: intake of relying-service requests, pending
// exchange state, magic-link completion and assertion dispatch.
package idp

import (
	"net/http"
	"strings"
	"time"

	"github.com/eduguest/guestidp/pkg/model"
	"github.com/eduguest/guestidp/pkg/observability"
	"github.com/eduguest/guestidp/pkg/saml"
	"github.com/eduguest/guestidp/pkg/storage"
)

// Cookie names shared across the login surfaces.
const (
	RememberMeCookieName      = "guest-idp-remember-me"
	RegisterModusCookieName   = "REGISTER_MODUS"
	LoginPreferenceCookieName = "login_preference"
	UsernameCookieName        = "username"
)

const (
	// SSOPath receives relying-service authentication requests.
	SSOPath = "/saml/guest-idp/SSO"
	// MagicPath completes an exchange with a one-time key.
	MagicPath = "/saml/guest-idp/magic"

	// magicLinkParam carries the one-time completion key.
	magicLinkParam = "h"
)

// HomeOrganization identifies this guest provider as the asserting
// authority in every assertion it issues.
const HomeOrganization = "surfconext.guest.id"

// MetadataResolver resolves relying-service metadata by entity id.
type MetadataResolver interface {
	ServiceProviderByEntityID(entityID string) (*saml.ServiceProvider, error)
}

// NameIDFunc overrides the subject NameID of an assertion. The default
// asserts the user's email with the email format; deployments fronting
// legacy services install a hook returning a persistent identifier.
type NameIDFunc func(user *model.User, pending model.PendingRequest) (value, format string)

// Config carries the orchestrator's deployment knobs.
type Config struct {
	// RedirectBaseURL is the base of the interactive login UI. An
	// unresolved exchange 302s to RedirectBaseURL/login/{exchange-id}.
	RedirectBaseURL string

	// LoginURL is where /register and /doLogin send the browser.
	LoginURL string

	// SPBaseURL is the account-management frontend, target of
	// enrollment-key redemption.
	SPBaseURL string

	// RememberMeMaxAge bounds the remember-me cookie lifetime.
	RememberMeMaxAge time.Duration

	// SecureCookie marks issued cookies Secure.
	SecureCookie bool

	// LinkingContextClassRefs are the authentication context class refs
	// that demand a linked institutional account.
	LinkingContextClassRefs []string
}

// GuestIdP orchestrates authentication exchanges end to end.
type GuestIdP struct {
	cfg      Config
	toolkit  saml.Toolkit
	metadata MetadataResolver
	requests storage.AuthnRequestStore
	users    storage.UserStore
	logger   *observability.Logger
	metrics  *observability.Metrics

	nameIDFor NameIDFunc
	now       func() time.Time
}

func NewGuestIdP(cfg Config, toolkit saml.Toolkit, metadata MetadataResolver,
	requests storage.AuthnRequestStore, users storage.UserStore,
	logger *observability.Logger, metrics *observability.Metrics) *GuestIdP {
	return &GuestIdP{
		cfg:      cfg,
		toolkit:  toolkit,
		metadata: metadata,
		requests: requests,
		users:    users,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetNameIDFunc installs the NameID override hook.
func (g *GuestIdP) SetNameIDFunc(fn NameIDFunc) {
	g.nameIDFor = fn
}

// Capabilities returns the provider's entry points in match order, for
// composition into a Filter.
func (g *GuestIdP) Capabilities() []Capability {
	return []Capability{
		capabilityFunc{matches: g.matchesSSO, handle: g.handleSSO},
		capabilityFunc{matches: g.matchesMagic, handle: g.handleMagicLink},
	}
}

func (g *GuestIdP) matchesSSO(r *http.Request) bool {
	if !strings.HasSuffix(r.URL.Path, SSOPath) {
		return false
	}
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get("SAMLRequest") != ""
	case http.MethodPost:
		return true
	default:
		return false
	}
}

func (g *GuestIdP) matchesMagic(r *http.Request) bool {
	return r.Method == http.MethodGet &&
		strings.HasSuffix(r.URL.Path, MagicPath) &&
		r.URL.Query().Get(magicLinkParam) != ""
}

// accountLinkingRequired reports whether any requested context class ref
// demands a linked institutional account.
func (g *GuestIdP) accountLinkingRequired(refs []string) bool {
	for _, ref := range refs {
		for _, linking := range g.cfg.LinkingContextClassRefs {
			if ref == linking {
				return true
			}
		}
	}
	return false
}
