package auth

import "errors"

// Error taxonomy shared by the token service, the resolver, and the HTTP
// layer. Raw storage and provider errors are translated into one of these at
// the component boundary; only these sentinels cross package lines.
//
// ErrInvalidCredential and ErrTokenExpired are deliberately distinct so a
// client can tell "re-authenticate" apart from "mint a new token". Everything
// downstream of verification treats an expired token as invalid.
var (
	// ErrInvalidCredential is a credential that is malformed, unknown, revoked,
	// or failed provider verification.
	ErrInvalidCredential = errors.New("auth: invalid credential")

	// ErrTokenExpired is an API token that matched but is past its expiry.
	// Detecting this transitions the token to inactive as a side effect.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrQuotaExceeded means the owner already holds the maximum number of
	// active tokens.
	ErrQuotaExceeded = errors.New("auth: active token quota exceeded")

	// ErrTokenNotFound is returned by revocation when no active token with the
	// given ID is owned by the caller.
	ErrTokenNotFound = errors.New("auth: token not found")

	// ErrProviderUnavailable means the identity provider could not be reached
	// or errored. In required-resolution mode this fails closed: the resolver
	// reports ErrInvalidCredential to the caller and logs the real cause.
	ErrProviderUnavailable = errors.New("auth: identity provider unavailable")
)
