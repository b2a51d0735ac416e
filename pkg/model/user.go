package model

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrWeakCredential is returned when a credential update is rejected before
// persistence because the supplied secret is not strong enough.
var ErrWeakCredential = errors.New("credential does not meet strength requirements")

// EduID is the stable pseudonymous identifier issued for one
// (user, relying service) pair. The value never changes once issued; only
// the cached service names are re-synchronized.
type EduID struct {
	Value         string    `json:"value"`
	ServiceName   string    `json:"service_name,omitempty"`
	ServiceNameNL string    `json:"service_name_nl,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// PublicKeyCredential is a registered WebAuthn credential. The material is
// opaque to this core; ceremonies live elsewhere.
type PublicKeyCredential struct {
	Identifier string `json:"identifier"`
	Credential string `json:"credential"`
	Name       string `json:"name"`
}

// User is the authenticated subject of the guest identity provider.
type User struct {
	ID                      string `json:"id"`
	UID                     string `json:"uid"`
	Email                   string `json:"email"`
	GivenName               string `json:"given_name"`
	FamilyName              string `json:"family_name"`
	SchacHomeOrganization   string `json:"schac_home_organization"`
	AuthenticatingAuthority string `json:"authenticating_authority"`

	// Password is the encoded credential; never the plaintext.
	Password          string `json:"-"`
	ForgottenPassword bool   `json:"forgotten_password"`

	NewUser                   bool   `json:"new_user"`
	PreferredLanguage         string `json:"preferred_language,omitempty"`
	EnrollmentVerificationKey string `json:"-"`

	LinkedAccounts          []LinkedAccount       `json:"linked_accounts"`
	EduIDPerServiceProvider map[string]*EduID     `json:"eduid_per_service_provider"`
	PublicKeyCredentials    []PublicKeyCredential `json:"public_key_credentials,omitempty"`
	Attributes              map[string][]string   `json:"attributes,omitempty"`

	Created   int64 `json:"created"`
	UpdatedAt int64 `json:"updated_at"`
}

// NewUser creates a guest user and issues the EduID for the relying service
// that triggered the registration.
func NewUser(uid, email, givenName, familyName, schacHomeOrganization, authenticatingAuthority,
	serviceProviderEntityID, serviceProviderName, serviceProviderNameNL, preferredLanguage string) *User {
	now := time.Now().Unix()
	u := &User{
		UID:                     uid,
		Email:                   email,
		GivenName:               givenName,
		FamilyName:              familyName,
		SchacHomeOrganization:   schacHomeOrganization,
		AuthenticatingAuthority: authenticatingAuthority,
		PreferredLanguage:       preferredLanguage,
		NewUser:                 true,
		EduIDPerServiceProvider: make(map[string]*EduID),
		Created:                 now,
		UpdatedAt:               now,
	}
	u.ComputeEduIDForServiceProvider(serviceProviderEntityID, serviceProviderName, serviceProviderNameNL)
	return u
}

// Validate checks the fields every persisted user must carry.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.GivenName == "" {
		return errors.New("given name is required")
	}
	if u.FamilyName == "" {
		return errors.New("family name is required")
	}
	return nil
}

// SetPassword encodes and stores a new credential, rejecting weak ones before
// anything is persisted. An empty password clears the credential and flags
// the account for the forgotten-password flow.
func (u *User) SetPassword(plaintext string, strongEnough func(string) bool, encode func(string) (string, error)) error {
	if plaintext == "" {
		u.Password = ""
		u.ForgottenPassword = true
		return nil
	}
	if !strongEnough(plaintext) {
		return ErrWeakCredential
	}
	encoded, err := encode(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encode password: %w", err)
	}
	u.Password = encoded
	u.ForgottenPassword = false
	return nil
}

// ComputeEduIDForServiceProvider returns the stable pseudonymous identifier
// for the given relying service, issuing a fresh random one on first use.
// The cached service names are re-synchronized when they changed; the value
// itself never does. An empty entity id yields an empty identifier.
func (u *User) ComputeEduIDForServiceProvider(entityID, serviceName, serviceNameNL string) string {
	if entityID == "" {
		return ""
	}
	if u.EduIDPerServiceProvider == nil {
		u.EduIDPerServiceProvider = make(map[string]*EduID)
	}
	eduID, ok := u.EduIDPerServiceProvider[entityID]
	if !ok {
		eduID = &EduID{
			Value:         uuid.NewString(),
			ServiceName:   serviceName,
			ServiceNameNL: serviceNameNL,
			CreatedAt:     time.Now(),
		}
		u.EduIDPerServiceProvider[entityID] = eduID
		return eduID.Value
	}
	u.syncServiceName(entityID, serviceName, serviceNameNL)
	return eduID.Value
}

// syncServiceName overwrites the cached display names when the relying
// service supplied changed ones. Reports whether anything changed.
func (u *User) syncServiceName(entityID, serviceName, serviceNameNL string) bool {
	eduID, ok := u.EduIDPerServiceProvider[entityID]
	if !ok {
		return false
	}
	needsSync := (serviceName != "" && serviceName != eduID.ServiceName) ||
		(serviceNameNL != "" && serviceNameNL != eduID.ServiceNameNL)
	if needsSync {
		eduID.ServiceName = serviceName
		eduID.ServiceNameNL = serviceNameNL
	}
	return needsSync
}

// EduIDForServiceProviderNeedsUpdate reports whether issuing an identifier
// for the given relying service would mutate the user record.
func (u *User) EduIDForServiceProviderNeedsUpdate(entityID, serviceName, serviceNameNL string) bool {
	if _, ok := u.EduIDPerServiceProvider[entityID]; !ok {
		return true
	}
	return u.syncServiceName(entityID, serviceName, serviceNameNL)
}

// LinkedAccountsSorted returns the linked accounts ordered by expiry
// descending, stable for equal expiries.
func (u *User) LinkedAccountsSorted() []LinkedAccount {
	sorted := make([]LinkedAccount, len(u.LinkedAccounts))
	copy(sorted, u.LinkedAccounts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExpiresAt.After(sorted[j].ExpiresAt)
	})
	return sorted
}

// AllEduPersonAffiliations aggregates the affiliations of every linked account.
func (u *User) AllEduPersonAffiliations() []string {
	var all []string
	for _, account := range u.LinkedAccounts {
		all = append(all, account.EduPersonAffiliations...)
	}
	return all
}

// EduPersonPrincipalName is the scoped principal name of the guest account.
func (u *User) EduPersonPrincipalName() string {
	return u.UID + "@" + u.SchacHomeOrganization
}
