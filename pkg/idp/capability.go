package idp

import "net/http"

// Capability is one entry point of the provider. Capabilities are
// composed into a Filter rather than layered through handler
// inheritance; each one declares which requests it owns.
type Capability interface {
	// Matches reports whether this capability handles the request.
	// It must not have side effects.
	Matches(r *http.Request) bool

	// Handle processes a request Matches claimed.
	Handle(w http.ResponseWriter, r *http.Request)
}

// Filter dispatches each request to the first matching capability and
// passes everything else through to the next handler unmodified.
type Filter struct {
	capabilities []Capability
	next         http.Handler
}

func NewFilter(next http.Handler, capabilities ...Capability) *Filter {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return &Filter{capabilities: capabilities, next: next}
}

func (f *Filter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, capability := range f.capabilities {
		if capability.Matches(r) {
			capability.Handle(w, r)
			return
		}
	}
	f.next.ServeHTTP(w, r)
}

// capabilityFunc builds a Capability from two funcs.
type capabilityFunc struct {
	matches func(r *http.Request) bool
	handle  func(w http.ResponseWriter, r *http.Request)
}

func (c capabilityFunc) Matches(r *http.Request) bool { return c.matches(r) }

func (c capabilityFunc) Handle(w http.ResponseWriter, r *http.Request) { c.handle(w, r) }
