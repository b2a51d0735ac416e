package idp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/eduguest/guestidp/pkg/httputil"
	"github.com/eduguest/guestidp/pkg/model"
	"github.com/eduguest/guestidp/pkg/saml"
)

// handleSSO is the intake of a relying-service authentication request.
// The request is validated before anything is persisted; an exchange
// that cannot be resolved from existing state 302s to the login UI.
func (g *GuestIdP) handleSSO(w http.ResponseWriter, r *http.Request) {
	encoded, relayState, deflated, err := extractRequestParams(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	binding := saml.BindingHTTPRedirect
	if !deflated {
		binding = saml.BindingHTTPPost
	}

	req, err := g.toolkit.ParseAuthnRequest(encoded, deflated)
	if err != nil {
		g.metrics.AuthnRequestsTotal.WithLabelValues(binding, "invalid").Inc()
		g.logger.WithError(err).Warn("rejected authentication request")
		httputil.WriteBadRequest(w, "invalid authentication request")
		return
	}
	g.metrics.AuthnRequestsTotal.WithLabelValues(binding, "accepted").Inc()

	requesterEntityID := ""
	if len(req.RequesterIDs) > 0 {
		requesterEntityID = req.RequesterIDs[0]
	}

	pending, err := model.NewPendingRequest(req.ID, req.Issuer, req.ACSLocation,
		relayState, requesterEntityID, g.accountLinkingRequired(req.AuthnContextClassRefs),
		req.AuthnContextClassRefs, g.now())
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if sp, err := g.metadata.ServiceProviderByEntityID(req.Issuer); err == nil {
		pending.ServiceName = sp.DisplayName
	}

	// The store-assigned copy is the one used from here on.
	stored, err := g.requests.Create(r.Context(), pending)
	if err != nil {
		g.logger.WithError(err).Error("failed to persist authentication request")
		httputil.WriteInternalError(w, err)
		return
	}
	log := g.logger.WithExchange(stored.ID).WithField("issuer", stored.Issuer)

	user, strategy, resolved := g.resolveSubject(r)
	if resolved && !req.ForceAuthn {
		completed := stored.Complete(user.ID)
		if err := g.requests.Update(r.Context(), completed); err != nil {
			log.WithError(err).Error("failed to record resolved exchange")
			httputil.WriteInternalError(w, err)
			return
		}
		g.metrics.LoginsTotal.WithLabelValues(string(strategy)).Inc()
		log.WithField("strategy", string(strategy)).Info("exchange resolved without interactive login")
		g.dispatchAssertion(w, r, completed, user, req)
		return
	}

	log.Info("redirecting to interactive login")
	http.Redirect(w, r, fmt.Sprintf("%s/login/%s", g.cfg.RedirectBaseURL, stored.ID), http.StatusFound)
}

// extractRequestParams pulls the encoded request and relay state off the
// wire. The redirect binding deflates; the post binding does not.
func extractRequestParams(r *http.Request) (encoded, relayState string, deflated bool, err error) {
	switch r.Method {
	case http.MethodGet:
		encoded = r.URL.Query().Get("SAMLRequest")
		relayState = r.URL.Query().Get("RelayState")
		deflated = true
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			return "", "", false, fmt.Errorf("malformed form body")
		}
		encoded = r.PostFormValue("SAMLRequest")
		relayState = r.PostFormValue("RelayState")
	default:
		return "", "", false, errors.New("unsupported method")
	}
	if encoded == "" {
		return "", "", false, errors.New("missing SAMLRequest parameter")
	}
	return encoded, relayState, deflated, nil
}
