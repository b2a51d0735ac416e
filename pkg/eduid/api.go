package eduid

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/eduguest/guestidp/pkg/httputil"
	"github.com/eduguest/guestidp/pkg/model"
	"github.com/eduguest/guestidp/pkg/observability"
	"github.com/eduguest/guestidp/pkg/storage"
)

// API serves the bearer-token attribute endpoints.
type API struct {
	verifier TokenVerifier
	users    storage.UserStore
	logger   *observability.Logger
}

func NewAPI(verifier TokenVerifier, users storage.UserStore, logger *observability.Logger) *API {
	return &API{verifier: verifier, users: users, logger: logger}
}

// RegisterRoutes mounts the attribute endpoints.
func (a *API) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/myconext/api/eduid/eppn", a.withClaims(a.handleEPPN)).Methods(http.MethodGet)
	router.HandleFunc("/myconext/api/eduid/eduid", a.withClaims(a.handleEduID)).Methods(http.MethodGet)
	router.HandleFunc("/myconext/api/eduid/links", a.withClaims(a.handleLinks)).Methods(http.MethodGet)
}

type claimsHandler func(w http.ResponseWriter, r *http.Request, claims Claims, user *model.User)

// withClaims verifies the bearer token, validates the claims and
// resolves the subject before the handler runs.
func (a *API) withClaims(next claimsHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httputil.WriteUnauthorized(w, "missing bearer token")
			return
		}
		claims, err := a.verifier.Verify(r.Context(), raw)
		if err != nil {
			a.logger.WithError(err).Warn("rejected bearer token")
			httputil.WriteUnauthorized(w, "invalid bearer token")
			return
		}

		user, err := a.resolveUser(r, claims)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httputil.WriteNotFoundError(w, "unknown user")
				return
			}
			httputil.WriteInternalError(w, err)
			return
		}
		next(w, r, claims, user)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// resolveUser finds the subject the claims reference: by pseudonymous
// identifier when present, otherwise by the first uid.
func (a *API) resolveUser(r *http.Request, claims Claims) (*model.User, error) {
	if claims.EduID != "" {
		return a.users.FindByEduID(r.Context(), claims.EduID)
	}
	return a.users.FindByUID(r.Context(), claims.UIDs[0])
}

// handleEPPN returns the principal names of the user's linked accounts,
// scoped by home organization.
func (a *API) handleEPPN(w http.ResponseWriter, r *http.Request, claims Claims, user *model.User) {
	schacHome := r.URL.Query().Get("schachome")

	results := make([]map[string]string, 0, len(user.LinkedAccounts))
	for _, account := range user.LinkedAccounts {
		if schacHome != "" && !strings.EqualFold(account.SchacHomeOrganization, schacHome) {
			continue
		}
		results = append(results, map[string]string{
			"eppn":                  account.EduPersonPrincipalName,
			"schacHomeOrganization": account.SchacHomeOrganization,
		})
	}
	httputil.WriteSuccess(w, results)
}

// handleEduID returns the stable pseudonymous identifier for the relying
// party named by the token's client id, issuing it on first use.
func (a *API) handleEduID(w http.ResponseWriter, r *http.Request, claims Claims, user *model.User) {
	value := user.ComputeEduIDForServiceProvider(claims.ClientID, "", "")
	if err := a.users.Save(r.Context(), user); err != nil {
		a.logger.WithError(err).Error("failed to persist issued identifier")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"eduid": value})
}

// handleLinks exposes the user's linked accounts with their validated
// names.
func (a *API) handleLinks(w http.ResponseWriter, r *http.Request, claims Claims, user *model.User) {
	results := make([]map[string]interface{}, 0, len(user.LinkedAccounts))
	for _, account := range user.LinkedAccounts {
		entry := map[string]interface{}{
			"schacHomeOrganization": account.SchacHomeOrganization,
			"eppn":                  account.EduPersonPrincipalName,
			"validatedName":         account.NamesValidated(),
			"createdAt":             account.CreatedAt,
			"expiresAt":             account.ExpiresAt,
		}
		if account.NamesValidated() {
			entry["givenName"] = account.GivenName
			entry["familyName"] = account.FamilyName
		}
		results = append(results, entry)
	}
	httputil.WriteSuccess(w, results)
}
