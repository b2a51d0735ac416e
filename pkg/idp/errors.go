package idp

import "errors"

var (
	// ErrExpiredOrInvalidExchange is returned when a completion key does
	// not resolve: never issued, already consumed, or past expiry. The
	// three cases are deliberately indistinguishable to the caller.
	ErrExpiredOrInvalidExchange = errors.New("idp: expired or invalid authentication exchange")

	// ErrUserNotFound is returned when an exchange names a subject that
	// no longer exists. This is a data-integrity fault, not a login miss.
	ErrUserNotFound = errors.New("idp: user not found")

	// ErrUnsupportedBinding is returned when a relying service declares
	// an assertion consumer binding this provider cannot dispatch to.
	ErrUnsupportedBinding = errors.New("idp: unsupported assertion consumer binding")
)
