package domain

import "errors"

var (
	ErrMalformedCredential = errors.New("malformed credential")
	ErrRevokedCredential   = errors.New("credential revoked or expired")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrInvalidInput        = errors.New("invalid input")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")

	ErrAnonymousJoin    = errors.New("anonymous connections cannot join")
	ErrIdentityMismatch = errors.New("user id does not match credential")
	ErrNotJoined        = errors.New("connection has not joined")
	ErrEmptyMessage     = errors.New("empty message")
	ErrMessageTooLong   = errors.New("message too long")
)
