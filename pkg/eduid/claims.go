// Package eduid exposes the attribute API consumed by trusted relying
// parties over bearer tokens: pseudonymous identifiers, principal names
// and linked-account attributes.
package eduid

import (
	"context"
	"errors"
)

// Claims is the typed view of a bearer token. Fields are optional on
// the wire; Validate decides whether the combination is usable.
type Claims struct {
	ClientID string   `json:"client_id"`
	UIDs     []string `json:"uids"`
	EduID    string   `json:"eduid"`
}

var (
	ErrMissingClientID = errors.New("eduid: token carries no client_id")
	ErrNoSubjectClaim  = errors.New("eduid: token carries neither uids nor eduid")
)

// Validate checks the claims once, at the boundary. Handlers past this
// point may rely on a client id and at least one subject reference.
func (c Claims) Validate() error {
	if c.ClientID == "" {
		return ErrMissingClientID
	}
	if len(c.UIDs) == 0 && c.EduID == "" {
		return ErrNoSubjectClaim
	}
	return nil
}

// TokenVerifier authenticates a raw bearer token and extracts its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (Claims, error)
}
