// Package devapi implements the remote auth API the portal client talks to:
// password login with portal roles, rotating refresh tokens, bearer and cookie
// credentials, and the current-user endpoints. It backs local runs and the
// end-to-end tests of the client library.
package devapi

import (
	"net/http"
	"time"
)

// Default cookie names, matching what the portal expects in cookie mode.
const (
	DefaultAccessCookieName  = "access_token"
	DefaultRefreshCookieName = "refresh_token"
)

// ServerConfig configures token issuance, cookies, and login lockout.
type ServerConfig struct {
	SigningKey        []byte
	Issuer            string
	CookieDomain      string
	AccessCookieName  string
	RefreshCookieName string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
	LockoutThreshold  int
	LockoutWindow     time.Duration
}

func (configuration ServerConfig) accessCookieName() string {
	if configuration.AccessCookieName == "" {
		return DefaultAccessCookieName
	}
	return configuration.AccessCookieName
}

func (configuration ServerConfig) refreshCookieName() string {
	if configuration.RefreshCookieName == "" {
		return DefaultRefreshCookieName
	}
	return configuration.RefreshCookieName
}
