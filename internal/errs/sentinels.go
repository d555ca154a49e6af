// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller lacks a required role.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed client input.
	ErrValidation = errors.New("validation failed")

	// ErrCaptchaFailed indicates the human-verification challenge was rejected.
	ErrCaptchaFailed = errors.New("captcha verification failed")
)

// Credential verification taxonomy. Clients only ever see ErrInvalidCredential;
// the wrapped reason is kept for logs and metrics.
var (
	// ErrInvalidCredential is the single client-facing verification outcome.
	ErrInvalidCredential = errors.New("invalid or expired token")

	ErrMalformed          = errors.New("malformed token")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrExpired            = errors.New("token expired")
	ErrWrongClass         = errors.New("wrong token class")
	ErrDenylisted         = errors.New("token denylisted")
	ErrVersionMismatch    = errors.New("principal version mismatch")
	ErrUnknownPrincipal   = errors.New("unknown principal")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Service identity sentinels.
var (
	// ErrUnknownService indicates no service matches the presented API key.
	ErrUnknownService = errors.New("unknown service")

	// ErrInactive indicates the service identity exists but is disabled.
	ErrInactive = errors.New("service inactive")

	// ErrOriginForbidden indicates the request origin is not on the service allow-list.
	ErrOriginForbidden = errors.New("origin not allowed")
)

// Reason returns the most specific verification reason wrapped in err, or nil.
func Reason(err error) error {
	for _, r := range []error{
		ErrMalformed, ErrInvalidSignature, ErrExpired, ErrWrongClass,
		ErrDenylisted, ErrVersionMismatch, ErrUnknownPrincipal, ErrStorageUnavailable,
	} {
		if errors.Is(err, r) {
			return r
		}
	}
	return nil
}

// ReasonLabel returns a short metric label for a verification failure.
func ReasonLabel(err error) string {
	switch Reason(err) {
	case ErrMalformed:
		return "malformed"
	case ErrInvalidSignature:
		return "bad_signature"
	case ErrExpired:
		return "expired"
	case ErrWrongClass:
		return "wrong_class"
	case ErrDenylisted:
		return "denylisted"
	case ErrVersionMismatch:
		return "version_mismatch"
	case ErrUnknownPrincipal:
		return "unknown_principal"
	case ErrStorageUnavailable:
		return "storage_unavailable"
	default:
		return "other"
	}
}
