package idp

import (
	"errors"
	"net/http"

	"github.com/eduguest/guestidp/pkg/authctx"
	"github.com/eduguest/guestidp/pkg/httputil"
	"github.com/eduguest/guestidp/pkg/saml"
	"github.com/eduguest/guestidp/pkg/storage"
)

// handleMagicLink completes an exchange with a one-time key. The key is
// consumed atomically with the lookup, so a second redemption of the
// same link always fails.
func (g *GuestIdP) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get(magicLinkParam)

	pending, err := g.requests.ConsumeByHash(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			g.metrics.MagicLinkTotal.WithLabelValues("expired_or_invalid").Inc()
			g.logger.Warn("magic link rejected: expired or invalid exchange")
			httputil.WriteGone(w, ErrExpiredOrInvalidExchange.Error())
			return
		}
		g.logger.WithError(err).Error("failed to consume magic link")
		httputil.WriteInternalError(w, err)
		return
	}
	log := g.logger.WithExchange(pending.ID)

	user, err := g.users.FindByID(r.Context(), pending.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			g.metrics.MagicLinkTotal.WithLabelValues("user_not_found").Inc()
			log.WithField("user_id", pending.UserID).Error("exchange names a missing user")
			httputil.WriteNotFoundError(w, ErrUserNotFound.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	// Internal continuation: the stored protocol id and ACS location are
	// enough, the original request is not re-validated.
	req := &saml.AuthnRequest{
		ID:          pending.RequestID,
		Issuer:      pending.Issuer,
		ACSLocation: pending.ACSLocation,
	}

	completed := pending.Complete(user.ID)
	if completed.RememberMe {
		completed = completed.WithRememberMe(completed.ID)
		http.SetCookie(w, &http.Cookie{
			Name:     RememberMeCookieName,
			Value:    completed.ID,
			Path:     "/",
			MaxAge:   int(g.cfg.RememberMeMaxAge.Seconds()),
			Secure:   g.cfg.SecureCookie,
			HttpOnly: true,
		})
	}
	if err := g.requests.Update(r.Context(), completed); err != nil {
		log.WithError(err).Error("failed to record completed exchange")
		httputil.WriteInternalError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authctx.SessionCookieName,
		Value:    completed.ID,
		Path:     "/",
		Secure:   g.cfg.SecureCookie,
		HttpOnly: true,
	})

	g.metrics.MagicLinkTotal.WithLabelValues("completed").Inc()
	g.metrics.LoginsTotal.WithLabelValues(string(strategyMagicLink)).Inc()
	log.WithField("user_id", user.ID).Info("magic link completed")
	g.dispatchAssertion(w, r, completed, user, req)
}
