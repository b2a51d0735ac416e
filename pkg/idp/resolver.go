package idp

import (
	"net/http"

	"github.com/eduguest/guestidp/pkg/authctx"
	"github.com/eduguest/guestidp/pkg/model"
)

// loginStrategy labels how a subject was resolved without interactive
// login.
type loginStrategy string

const (
	strategyRemembered loginStrategy = "remembered"
	strategySession    loginStrategy = "session"
	strategyMagicLink  loginStrategy = "magic_link"
)

// resolveSubject determines whether the caller is already authenticated.
// A remember-me cookie pointing at a prior completed exchange wins over
// the session principal; interactive login is never invoked here.
func (g *GuestIdP) resolveSubject(r *http.Request) (*model.User, loginStrategy, bool) {
	if user, ok := g.resolveRemembered(r); ok {
		return user, strategyRemembered, true
	}

	principal, ok := authctx.From(r.Context())
	if !ok || !principal.Authenticated {
		return nil, "", false
	}
	user, err := g.users.FindByID(r.Context(), principal.UserID)
	if err != nil {
		return nil, "", false
	}
	return user, strategySession, true
}

// resolveRemembered follows the remember-me cookie to the exchange it
// names. The exchange's expiry window does not apply here; the cookie
// carries its own max-age.
func (g *GuestIdP) resolveRemembered(r *http.Request) (*model.User, bool) {
	cookie, err := r.Cookie(RememberMeCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}

	pending, err := g.requests.FindByID(r.Context(), cookie.Value)
	if err != nil || !pending.RememberMe || pending.UserID == "" {
		return nil, false
	}

	user, err := g.users.FindByID(r.Context(), pending.UserID)
	if err != nil {
		return nil, false
	}
	g.metrics.RememberMeResolved.Inc()
	return user, true
}
