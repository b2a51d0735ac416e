package eduid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduguest/guestidp/pkg/model"
	"github.com/eduguest/guestidp/pkg/observability"
	"github.com/eduguest/guestidp/pkg/storage"
)

type fakeVerifier struct {
	claims map[string]Claims
}

func (f *fakeVerifier) Verify(_ context.Context, rawToken string) (Claims, error) {
	claims, ok := f.claims[rawToken]
	if !ok {
		return Claims{}, errors.New("unknown token")
	}
	if err := claims.Validate(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func newAPITest(t *testing.T) (*mux.Router, *storage.MemoryUserStore, *fakeVerifier) {
	t.Helper()
	users := storage.NewMemoryUserStore()
	verifier := &fakeVerifier{claims: map[string]Claims{}}
	api := NewAPI(verifier, users, observability.NewLogger(observability.ErrorLevel, io.Discard))
	router := mux.NewRouter()
	api.RegisterRoutes(router)
	return router, users, verifier
}

func seedLinkedUser(t *testing.T, users *storage.MemoryUserStore) *model.User {
	t.Helper()
	user := model.NewUser("jdoe", "jdoe@example.com", "John", "Doe", "guest.example.org",
		"https://idp.example.org", "https://sp.example.com", "Example Service", "", "en")
	user.LinkedAccounts = []model.LinkedAccount{
		{
			InstitutionIdentifier:  "uni-a",
			SchacHomeOrganization:  "uni-a.example.org",
			EduPersonPrincipalName: "jdoe@uni-a.example.org",
			GivenName:              "John",
			FamilyName:             "Doe",
			CreatedAt:              time.Now().Add(-24 * time.Hour),
			ExpiresAt:              time.Now().Add(24 * time.Hour),
		},
		{
			InstitutionIdentifier:  "uni-b",
			SchacHomeOrganization:  "uni-b.example.org",
			EduPersonPrincipalName: "jd@uni-b.example.org",
			CreatedAt:              time.Now().Add(-48 * time.Hour),
			ExpiresAt:              time.Now().Add(48 * time.Hour),
		},
	}
	require.NoError(t, users.Save(context.Background(), user))
	return user
}

func apiGet(router *mux.Router, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAPIRejectsMissingOrInvalidToken(t *testing.T) {
	router, _, _ := newAPITest(t)

	assert.Equal(t, http.StatusUnauthorized, apiGet(router, "/myconext/api/eduid/eduid", "").Code)
	assert.Equal(t, http.StatusUnauthorized, apiGet(router, "/myconext/api/eduid/eduid", "bogus").Code)
}

func TestClaimsValidation(t *testing.T) {
	assert.ErrorIs(t, Claims{}.Validate(), ErrMissingClientID)
	assert.ErrorIs(t, Claims{ClientID: "rp"}.Validate(), ErrNoSubjectClaim)
	assert.NoError(t, Claims{ClientID: "rp", UIDs: []string{"jdoe"}}.Validate())
	assert.NoError(t, Claims{ClientID: "rp", EduID: "abc"}.Validate())
}

func TestEduIDEndpointIssuesStableIdentifier(t *testing.T) {
	router, users, verifier := newAPITest(t)
	seedLinkedUser(t, users)
	verifier.claims["tok"] = Claims{ClientID: "https://rp.example.com", UIDs: []string{"jdoe"}}

	first := apiGet(router, "/myconext/api/eduid/eduid", "tok")
	require.Equal(t, http.StatusOK, first.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &body))
	require.NotEmpty(t, body["eduid"])

	// Repeated calls return the same identifier.
	second := apiGet(router, "/myconext/api/eduid/eduid", "tok")
	var again map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &again))
	assert.Equal(t, body["eduid"], again["eduid"])
}

func TestEduIDEndpointResolvesByEduIDClaim(t *testing.T) {
	router, users, verifier := newAPITest(t)
	user := seedLinkedUser(t, users)
	eduID := user.EduIDPerServiceProvider["https://sp.example.com"].Value
	verifier.claims["tok"] = Claims{ClientID: "https://sp.example.com", EduID: eduID}

	rec := apiGet(router, "/myconext/api/eduid/eduid", "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, eduID, body["eduid"])
}

func TestEPPNEndpointFiltersBySchacHome(t *testing.T) {
	router, users, verifier := newAPITest(t)
	seedLinkedUser(t, users)
	verifier.claims["tok"] = Claims{ClientID: "rp", UIDs: []string{"jdoe"}}

	rec := apiGet(router, "/myconext/api/eduid/eppn", "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = apiGet(router, "/myconext/api/eduid/eppn?schachome=uni-a.example.org", "tok")
	var filtered []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "jdoe@uni-a.example.org", filtered[0]["eppn"])
}

func TestLinksEndpointExposesValidatedNames(t *testing.T) {
	router, users, verifier := newAPITest(t)
	seedLinkedUser(t, users)
	verifier.claims["tok"] = Claims{ClientID: "rp", UIDs: []string{"jdoe"}}

	rec := apiGet(router, "/myconext/api/eduid/links", "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	var links []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &links))
	require.Len(t, links, 2)

	assert.Equal(t, true, links[0]["validatedName"])
	assert.Equal(t, "John", links[0]["givenName"])
	assert.Equal(t, false, links[1]["validatedName"])
	_, hasName := links[1]["givenName"]
	assert.False(t, hasName)
}

func TestAPIUnknownUser(t *testing.T) {
	router, _, verifier := newAPITest(t)
	verifier.claims["tok"] = Claims{ClientID: "rp", UIDs: []string{"nobody"}}

	assert.Equal(t, http.StatusNotFound, apiGet(router, "/myconext/api/eduid/eppn", "tok").Code)
}
