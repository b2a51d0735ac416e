package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTTL is the window in which an authentication exchange must
// complete before it fails closed.
const DefaultRequestTTL = time.Hour

// MaxVerificationCodeRetries bounds the number of wrong verification codes
// accepted before the exchange is abandoned.
const MaxVerificationCodeRetries = 3

var (
	// ErrContextRefsRequired is returned when a pending request demands
	// account linking without any authentication context class references.
	ErrContextRefsRequired = errors.New("authentication context class references are required when account linking is required")

	// ErrVerificationCodeRetriesExceeded is returned when the retry budget
	// for the verification code is exhausted.
	ErrVerificationCodeRetriesExceeded = errors.New("verification code retries exceeded")
)

// StepUpStatus tracks step-up authentication progress for an exchange.
type StepUpStatus string

const (
	StepUpNone       StepUpStatus = "none"
	StepUpInProgress StepUpStatus = "in_progress"
	StepUpCompleted  StepUpStatus = "completed"
)

// LoginStatus tracks how far the interactive login has progressed.
type LoginStatus string

const (
	LoginStatusNotLoggedIn         LoginStatus = "not_logged_in"
	LoginStatusLoggedInOtherDevice LoginStatus = "logged_in_other_device"
	LoginStatusLoggedIn            LoginStatus = "logged_in"
)

// PendingRequest is the persisted record of one in-flight or completed
// authentication exchange. The ID doubles as the login-UI correlation key
// and as the remember-me token value.
type PendingRequest struct {
	ID string `json:"id"`

	// Origin of the exchange, copied verbatim from the inbound request.
	RequestID         string `json:"request_id"`
	Issuer            string `json:"issuer"`
	ACSLocation       string `json:"acs_location"`
	RelayState        string `json:"relay_state,omitempty"`
	RequesterEntityID string `json:"requester_entity_id,omitempty"`

	// Hash is the one-time magic-link completion key. Consuming it clears
	// the field; an empty hash never resolves.
	Hash string `json:"hash,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`

	// UserID is set once authentication succeeds.
	UserID string `json:"user_id,omitempty"`

	AccountLinkingRequired bool     `json:"account_linking_required"`
	AuthnContextClassRefs  []string `json:"authn_context_class_refs,omitempty"`

	// Flow discriminators.
	PasswordOrWebAuthnFlow bool `json:"password_or_webauthn_flow"`
	TiqrFlow               bool `json:"tiqr_flow"`

	RememberMe      bool   `json:"remember_me"`
	RememberMeValue string `json:"remember_me_value,omitempty"`

	SteppedUp   StepUpStatus `json:"stepped_up"`
	LoginStatus LoginStatus  `json:"login_status"`

	VerificationCode      string `json:"verification_code,omitempty"`
	RetryVerificationCode int    `json:"retry_verification_code"`

	ServiceName string `json:"service_name,omitempty"`
}

// NewPendingRequest creates a fresh exchange record with a random id and the
// default expiry window. It fails fast when account linking is required but
// no authentication context class references were supplied.
func NewPendingRequest(requestID, issuer, acsLocation, relayState, requesterEntityID string,
	accountLinkingRequired bool, authnContextClassRefs []string, now time.Time) (PendingRequest, error) {
	if accountLinkingRequired && len(authnContextClassRefs) == 0 {
		return PendingRequest{}, ErrContextRefsRequired
	}
	return PendingRequest{
		ID:                     uuid.NewString(),
		RequestID:              requestID,
		Issuer:                 issuer,
		ACSLocation:            acsLocation,
		RelayState:             relayState,
		RequesterEntityID:      requesterEntityID,
		AccountLinkingRequired: accountLinkingRequired,
		AuthnContextClassRefs:  authnContextClassRefs,
		ExpiresAt:              now.Add(DefaultRequestTTL),
		SteppedUp:              StepUpNone,
		LoginStatus:            LoginStatusNotLoggedIn,
	}, nil
}

// Expired reports whether the exchange is past its expiry timestamp.
func (p PendingRequest) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Complete returns a copy of the exchange with the resolved subject recorded
// and the login status advanced.
func (p PendingRequest) Complete(userID string) PendingRequest {
	p.UserID = userID
	p.LoginStatus = LoginStatusLoggedIn
	return p
}

// AttachHash returns a copy of the exchange carrying a fresh one-time
// completion key, making it magic-link completable.
func (p PendingRequest) AttachHash() PendingRequest {
	p.Hash = uuid.NewString()
	return p
}

// Consumed returns a copy of the exchange with the completion key cleared so
// it can never resolve a second time.
func (p PendingRequest) Consumed() PendingRequest {
	p.Hash = ""
	return p
}

// WithRememberMe returns a copy of the exchange recording that the user asked
// to be remembered, along with the opaque remember-me value.
func (p PendingRequest) WithRememberMe(value string) PendingRequest {
	p.RememberMe = true
	p.RememberMeValue = value
	return p
}

// WithStepUp returns a copy of the exchange with the step-up status advanced.
func (p PendingRequest) WithStepUp(status StepUpStatus) PendingRequest {
	p.SteppedUp = status
	return p
}

// WithVerificationCode returns a copy of the exchange carrying a new
// verification code with a reset retry counter.
func (p PendingRequest) WithVerificationCode(code string) PendingRequest {
	p.VerificationCode = code
	p.RetryVerificationCode = 0
	return p
}

// RecordVerificationAttempt returns a copy of the exchange with the retry
// counter incremented, or fails once the bounded budget is spent.
func (p PendingRequest) RecordVerificationAttempt() (PendingRequest, error) {
	if p.RetryVerificationCode >= MaxVerificationCodeRetries {
		return p, ErrVerificationCodeRetriesExceeded
	}
	p.RetryVerificationCode++
	return p, nil
}
