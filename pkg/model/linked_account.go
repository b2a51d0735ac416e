package model

import "time"

// LinkedAccount is an external institutional identity linked to a User. It
// is exclusively owned by its user and replaced wholesale on re-link.
type LinkedAccount struct {
	InstitutionIdentifier  string    `json:"institution_identifier"`
	SchacHomeOrganization  string    `json:"schac_home_organization"`
	EduPersonPrincipalName string    `json:"edu_person_principal_name"`
	GivenName              string    `json:"given_name,omitempty"`
	FamilyName             string    `json:"family_name,omitempty"`
	EduPersonAffiliations  []string  `json:"edu_person_affiliations"`
	CreatedAt              time.Time `json:"created_at"`
	ExpiresAt              time.Time `json:"expires_at"`
}

// Refresh overwrites the account on a subsequent successful link event,
// extending its expiry and replacing names and affiliations.
func (a *LinkedAccount) Refresh(institutionIdentifier, eppn, givenName, familyName string,
	eduPersonAffiliations []string, expiresAt time.Time) {
	a.InstitutionIdentifier = institutionIdentifier
	a.EduPersonPrincipalName = eppn
	a.GivenName = givenName
	a.FamilyName = familyName
	a.EduPersonAffiliations = eduPersonAffiliations
	a.ExpiresAt = expiresAt
}

// NamesValidated reports whether the institution supplied both name parts.
func (a *LinkedAccount) NamesValidated() bool {
	return a.GivenName != "" && a.FamilyName != ""
}
