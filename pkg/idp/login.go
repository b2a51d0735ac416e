package idp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/eduguest/guestidp/pkg/httputil"
	"github.com/eduguest/guestidp/pkg/storage"
)

// RegisterRoutes mounts the login-UI support endpoints.
func (g *GuestIdP) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/config", g.handleConfig).Methods(http.MethodGet)
	router.HandleFunc("/register", g.handleRegister).Methods(http.MethodGet)
	router.HandleFunc("/register/{enrollmentVerificationKey}", g.handleEnrollment).Methods(http.MethodGet)
	router.HandleFunc("/doLogin", g.handleDoLogin).Methods(http.MethodGet)
}

// handleConfig returns the bootstrap map the login UI reads on load.
func (g *GuestIdP) handleConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"loginUrl":         g.cfg.LoginURL,
		"baseUrl":          g.cfg.RedirectBaseURL,
		"spBaseUrl":        g.cfg.SPBaseURL,
		"secureCookie":     g.cfg.SecureCookie,
		"homeOrganization": HomeOrganization,
	})
}

// handleRegister marks the browser as registering and sends it into the
// login flow. The marker cookie rides along on the cross-site return,
// hence SameSite=None.
func (g *GuestIdP) handleRegister(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     RegisterModusCookieName,
		Value:    "true",
		Path:     "/",
		Secure:   g.cfg.SecureCookie,
		SameSite: http.SameSiteNoneMode,
	})
	http.Redirect(w, r, loginRedirectURL(g.cfg.LoginURL, r.URL.Query().Get("lang")), http.StatusFound)
}

// handleDoLogin clears the registration marker and sends the browser
// into the login flow.
func (g *GuestIdP) handleDoLogin(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     RegisterModusCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   g.cfg.SecureCookie,
		SameSite: http.SameSiteNoneMode,
	})
	http.Redirect(w, r, loginRedirectURL(g.cfg.LoginURL, r.URL.Query().Get("lang")), http.StatusFound)
}

func loginRedirectURL(loginURL, lang string) string {
	if lang == "" {
		lang = "en"
	}
	return fmt.Sprintf("%s?lang=%s", loginURL, lang)
}

// handleEnrollment redeems an enrollment verification key. The key is
// single-use: redemption clears it before anything else happens.
func (g *GuestIdP) handleEnrollment(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["enrollmentVerificationKey"]

	user, err := g.users.FindByEnrollmentVerificationKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteNotFoundError(w, "unknown enrollment verification key")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	user.EnrollmentVerificationKey = ""
	if err := g.users.Save(r.Context(), user); err != nil {
		g.logger.WithError(err).Error("failed to consume enrollment verification key")
		httputil.WriteInternalError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:   LoginPreferenceCookieName,
		Value:  "useApp",
		Path:   "/",
		MaxAge: 365 * 24 * 60 * 60,
		Secure: g.cfg.SecureCookie,
	})
	http.SetCookie(w, &http.Cookie{
		Name:   UsernameCookieName,
		Value:  user.Email,
		Path:   "/",
		MaxAge: 365 * 24 * 60 * 60,
		Secure: g.cfg.SecureCookie,
	})

	g.logger.WithField("user_id", user.ID).Info("enrollment verification key redeemed")
	http.Redirect(w, r, g.cfg.SPBaseURL+"/security", http.StatusFound)
}
