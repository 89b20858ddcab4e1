package token

import "errors"

var (
	// ErrAccessDenied means the identity may not hold tokens for the
	// requested application (suspended account or role not allowed).
	ErrAccessDenied = errors.New("token: access denied")

	// ErrInvalidToken covers malformed or unverifiable input.
	ErrInvalidToken = errors.New("token: invalid token")

	// ErrExpired means the token's lifetime has elapsed.
	ErrExpired = errors.New("token: expired")

	// ErrStalePermissions means the token's permissions version no longer
	// matches the directory; the subject must re-authenticate.
	ErrStalePermissions = errors.New("token: stale permissions")

	// ErrAlreadyUsed means a refresh token was presented after rotation.
	ErrAlreadyUsed = errors.New("token: refresh token already used")

	// ErrRevoked means the session backing the token no longer exists.
	ErrRevoked = errors.New("token: revoked")

	// ErrUnavailable means a dependency could not be reached. Callers on
	// authentication paths treat it as a verification failure (fail closed).
	ErrUnavailable = errors.New("token: dependency unavailable")
)
