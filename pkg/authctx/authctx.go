// Package authctx threads the authenticated principal through request
// handling explicitly, via context.Context. There is no ambient holder;
// anything that needs the principal takes it from the request context.
package authctx

import (
	"context"
	"net/http"
)

// SessionCookieName carries the login exchange id of an authenticated
// browser session.
const SessionCookieName = "guest-idp-session"

type contextKey struct{}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID        string
	Email         string
	Authenticated bool
}

// With attaches the principal to the context.
func With(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, principal)
}

// From extracts the principal from the context. The second return is
// false when no principal was attached.
func From(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(contextKey{}).(Principal)
	return principal, ok
}

// Resolver turns an incoming request into a principal, or reports that
// the request carries none.
type Resolver interface {
	Resolve(r *http.Request) (Principal, bool)
}

// Middleware resolves the principal once per request and attaches it to
// the request context. Requests without a principal pass through
// unchanged; handlers decide what anonymity means for them.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if principal, ok := resolver.Resolve(r); ok {
				r = r.WithContext(With(r.Context(), principal))
			}
			next.ServeHTTP(w, r)
		})
	}
}
