package authctx

import (
	"net/http"

	"github.com/eduguest/guestidp/pkg/model"
	"github.com/eduguest/guestidp/pkg/storage"
)

// CookieSessionResolver resolves the principal from the session cookie.
// The cookie value is the id of a completed login exchange; the exchange
// points at the user.
type CookieSessionResolver struct {
	requests storage.AuthnRequestStore
	users    storage.UserStore
}

func NewCookieSessionResolver(requests storage.AuthnRequestStore, users storage.UserStore) *CookieSessionResolver {
	return &CookieSessionResolver{requests: requests, users: users}
}

func (r *CookieSessionResolver) Resolve(req *http.Request) (Principal, bool) {
	cookie, err := req.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return Principal{}, false
	}

	pending, err := r.requests.FindByID(req.Context(), cookie.Value)
	if err != nil || pending.LoginStatus != model.LoginStatusLoggedIn || pending.UserID == "" {
		return Principal{}, false
	}

	user, err := r.users.FindByID(req.Context(), pending.UserID)
	if err != nil {
		return Principal{}, false
	}
	return Principal{UserID: user.ID, Email: user.Email, Authenticated: true}, true
}
