// Package common defines shared constants and sentinel errors used across
// the diaryd server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors: malformed input, rejected before any workflow starts.
	ErrorValidation     = errors.New("validation error")
	ErrInvalidPublicKey = errors.New("malformed public key")

	// Conflict errors: precise, user-visible.
	ErrorConflict             = errors.New("conflict")
	ErrVoucherRedeemed        = errors.New("voucher has already been redeemed")
	ErrVoucherExpired         = errors.New("voucher has expired")
	ErrVoucherNotFound        = errors.New("voucher not found")
	ErrSigningRequestResolved = errors.New("signing request has already been resolved")
	ErrSigningRequestExpired  = errors.New("signing request has expired")

	// Upstream errors: collaborator failures after retry exhaustion. Generic
	// to callers, detailed in logs.
	ErrorUpstream = errors.New("upstream service error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid client credentials")
)
