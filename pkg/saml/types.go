// Package saml wraps the SAML 2.0 protocol toolkit used by the guest
// identity provider: parsing and validating inbound authentication requests,
// building signed assertions and responses, and resolving relying-service
// metadata. Canonicalization and signature mechanics are delegated to
// goxmldsig; this package only orchestrates them.
package saml

import (
	"errors"

	"github.com/beevik/etree"
)

// SAML 2.0 protocol constants.
const (
	BindingHTTPPost     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
	BindingHTTPRedirect = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"

	NameIDFormatEmail      = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	NameIDFormatPersistent = "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent"

	AttributeNameFormatURI = "urn:oasis:names:tc:SAML:2.0:attrname-format:uri"

	StatusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

	AuthnContextPasswordProtectedTransport = "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"
)

// ErrValidationFailure is returned when an inbound authentication request
// fails decoding, schema-shape, freshness or signature checks.
var ErrValidationFailure = errors.New("saml: authentication request validation failed")

// AuthnRequest is the validated view of an inbound authentication request,
// or a minimal reconstruction of one for internal continuations.
type AuthnRequest struct {
	ID                    string
	Issuer                string
	ACSLocation           string
	ForceAuthn            bool
	RequesterIDs          []string
	AuthnContextClassRefs []string
}

// Attribute is a single assertion attribute.
type Attribute struct {
	Name  string
	Value string
}

// Assertion is a signed assertion produced by the toolkit. Opaque to
// callers; only the toolkit reads the element.
type Assertion struct {
	Element *etree.Element
}

// Response is a signed response enclosing an assertion.
type Response struct {
	Element *etree.Element
}

// Toolkit is the protocol toolkit contract consumed by the orchestrator.
type Toolkit interface {
	// ParseAuthnRequest decodes (and inflates, for the redirect binding)
	// an authentication request and validates it.
	ParseAuthnRequest(encoded string, deflated bool) (*AuthnRequest, error)

	// BuildAssertion produces a signed assertion for the subject with the
	// given NameID format and attribute set.
	BuildAssertion(sp *ServiceProvider, req *AuthnRequest, subject, nameIDFormat string, attrs []Attribute) (*Assertion, error)

	// BuildResponse encloses the assertion in a signed response addressed
	// to the request's assertion consumer service.
	BuildResponse(req *AuthnRequest, assertion *Assertion, sp *ServiceProvider) (*Response, error)

	// EncodeResponse serializes a response for transport, deflating it
	// first for the redirect binding.
	EncodeResponse(resp *Response, deflate bool) (string, error)
}
