package devapi

import "errors"

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the provided identifier.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenRevoked indicates the refresh token has been revoked.
	ErrRefreshTokenRevoked = errors.New("refresh_store.revoked")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenAlreadyRevoked signals a revoke call on an already-revoked token.
	ErrRefreshTokenAlreadyRevoked = errors.New("refresh_store.already_revoked")
	// ErrRefreshTokenEmptyOpaque indicates that the provided opaque token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")

	// ErrUserNotFound is returned when no account matches.
	ErrUserNotFound = errors.New("users.not_found")
	// ErrUserExists is returned when registering a taken username.
	ErrUserExists = errors.New("users.exists")
	// ErrWrongPassword is returned when a password does not match the stored hash.
	ErrWrongPassword = errors.New("users.wrong_password")
	// ErrWeakPassword is returned when a new password is too short.
	ErrWeakPassword = errors.New("users.weak_password")
	// ErrInvalidUsername is returned for an empty or malformed username.
	ErrInvalidUsername = errors.New("users.invalid_username")
	// ErrInvalidRole is returned for a role outside admin, teacher, student.
	ErrInvalidRole = errors.New("users.invalid_role")

	errEmptyDatabaseURL = errors.New("refresh_store.empty_database_url")
	errMissingStores    = errors.New("devapi.missing_stores")
)
