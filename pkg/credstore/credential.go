// Package credstore persists session credential material between runs.
//
// Two modes are supported. In token mode the access and refresh tokens are
// held in client-readable storage. In cookie mode the server keeps the
// credential in an HTTP-only cookie and the store only caches the user profile.
package credstore

import (
	"context"
	"errors"
	"time"
)

// Mode selects how the credential travels between client and server.
type Mode string

const (
	// ModeToken stores explicit bearer tokens.
	ModeToken Mode = "token"
	// ModeCookie relies on a server-set cookie the client cannot read.
	ModeCookie Mode = "cookie"
)

const (
	// KeyAccessToken holds the access token and its decoded expiry.
	KeyAccessToken = "access_token"
	// KeyRefreshToken holds the refresh token.
	KeyRefreshToken = "refresh_token"
	// KeyUserData holds the cached user profile.
	KeyUserData = "user_data"
)

var (
	// ErrKeyNotFound is returned by backends for absent keys.
	ErrKeyNotFound = errors.New("credstore.key_not_found")
	// ErrUnsupportedBackend indicates no backend is available for the storage URL scheme.
	ErrUnsupportedBackend = errors.New("credstore.unsupported_backend")
	// ErrUnsupportedMode indicates an unknown credential mode.
	ErrUnsupportedMode = errors.New("credstore.unsupported_mode")

	errEmptyStorageURL = errors.New("credstore.empty_storage_url")
	errEmptyFilePath   = errors.New("credstore.file.empty_path")
	errSQLiteEmptyPath = errors.New("credstore.sqlite.empty_path")
	errNilBackend      = errors.New("credstore.nil_backend")
)

// Credential is the token pair issued by the server. ExpiresUnix is zero when
// the expiry could not be derived from the access token.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresUnix  int64
}

// ExpiryKnown reports whether ExpiresUnix carries a real expiry.
func (credential Credential) ExpiryKnown() bool {
	return credential.ExpiresUnix > 0
}

// Remaining returns the lifetime left at now. Only meaningful when ExpiryKnown.
func (credential Credential) Remaining(now time.Time) time.Duration {
	return time.Unix(credential.ExpiresUnix, 0).Sub(now)
}

// Store persists the session credential.
type Store interface {
	Save(ctx context.Context, credential Credential) error
	// Load reports false when no usable credential is stored. Corrupt or
	// unreadable values are reported as absent.
	Load(ctx context.Context) (Credential, bool)
	Clear(ctx context.Context) error
	Mode() Mode
}

// ProfileCache persists the serialized user profile for display.
type ProfileCache interface {
	SaveUser(ctx context.Context, encoded []byte) error
	LoadUser(ctx context.Context) ([]byte, bool)
	ClearUser(ctx context.Context) error
}

// SessionStore is a Store that also caches the user profile.
type SessionStore interface {
	Store
	ProfileCache
}
