package idp

import (
	"net/http"
	"strings"

	"github.com/eduguest/guestidp/pkg/httputil"
	"github.com/eduguest/guestidp/pkg/model"
	"github.com/eduguest/guestidp/pkg/saml"
)

// attributesFor projects a user onto the fixed assertion attribute set.
// Pure: no user state changes here.
func attributesFor(user *model.User) []saml.Attribute {
	displayName := strings.TrimSpace(user.GivenName + " " + user.FamilyName)
	return []saml.Attribute{
		{Name: "urn:mace:dir:attribute-def:cn", Value: displayName},
		{Name: "urn:mace:dir:attribute-def:displayName", Value: displayName},
		{Name: "urn:mace:dir:attribute-def:eduPersonPrincipalName", Value: user.Email},
		{Name: "urn:mace:dir:attribute-def:givenName", Value: user.GivenName},
		{Name: "urn:mace:dir:attribute-def:mail", Value: user.Email},
		{Name: "urn:mace:dir:attribute-def:sn", Value: user.FamilyName},
		{Name: "urn:mace:dir:attribute-def:uid", Value: user.UID},
		{Name: "urn:mace:terena.org:attribute-def:schacHomeOrganization", Value: HomeOrganization},
	}
}

// dispatchAssertion builds the signed response for a resolved exchange
// and transports it via the relying service's declared binding.
func (g *GuestIdP) dispatchAssertion(w http.ResponseWriter, r *http.Request,
	pending model.PendingRequest, user *model.User, req *saml.AuthnRequest) {
	log := g.logger.WithExchange(pending.ID).WithField("issuer", pending.Issuer)

	sp, err := g.metadata.ServiceProviderByEntityID(pending.Issuer)
	if err != nil {
		log.WithError(err).Error("unknown relying service")
		httputil.WriteInternalError(w, err)
		return
	}

	nameID, nameIDFormat := user.Email, saml.NameIDFormatEmail
	if g.nameIDFor != nil {
		nameID, nameIDFormat = g.nameIDFor(user, pending)
	}

	assertion, err := g.toolkit.BuildAssertion(sp, req, nameID, nameIDFormat, attributesFor(user))
	if err != nil {
		log.WithError(err).Error("failed to build assertion")
		httputil.WriteInternalError(w, err)
		return
	}
	resp, err := g.toolkit.BuildResponse(req, assertion, sp)
	if err != nil {
		log.WithError(err).Error("failed to build response")
		httputil.WriteInternalError(w, err)
		return
	}

	if err := g.dispatch(w, r, resp, sp, pending.RelayState); err != nil {
		log.WithError(err).Error("failed to dispatch assertion")
		httputil.WriteInternalError(w, err)
	}
}
