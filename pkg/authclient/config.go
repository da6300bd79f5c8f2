package authclient

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	// DefaultRequestTimeout bounds every request, including the refresh call.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultRefreshThreshold is the low-water mark for proactive renewal.
	DefaultRefreshThreshold = 5 * time.Minute

	DefaultLoginEndpoint       = "/auth/login"
	DefaultRegisterEndpoint    = "/auth/register"
	DefaultRefreshEndpoint     = "/auth/refresh-token"
	DefaultLogoutEndpoint      = "/auth/logout"
	DefaultCurrentUserEndpoint = "/api/users/me"
	DefaultPasswordEndpoint    = "/api/users/me/password"

	DefaultLoginRoute     = "Login"
	DefaultAuthErrorRoute = "AuthError"
	DefaultLocale         = "en"
)

// Config describes the remote API and session policy.
type Config struct {
	BaseURL             string
	LoginEndpoint       string
	RegisterEndpoint    string
	RefreshEndpoint     string
	LogoutEndpoint      string
	CurrentUserEndpoint string
	PasswordEndpoint    string
	RequestTimeout      time.Duration
	RefreshThreshold    time.Duration
	Locale              string
	LoginRoute          string
	AuthErrorRoute      string
}

// PortalLoginEndpoint returns the login path for a portal variant.
func PortalLoginEndpoint(portal string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(portal)) {
	case "", "default":
		return DefaultLoginEndpoint, nil
	case "admin", "teacher", "student":
		return DefaultLoginEndpoint + "/" + strings.ToLower(strings.TrimSpace(portal)), nil
	default:
		return "", fmt.Errorf("authclient.portal.%s: %w", portal, ErrUnknownPortal)
	}
}

func (configuration Config) withDefaults() Config {
	resolved := configuration
	resolved.LoginEndpoint = defaultString(resolved.LoginEndpoint, DefaultLoginEndpoint)
	resolved.RegisterEndpoint = defaultString(resolved.RegisterEndpoint, DefaultRegisterEndpoint)
	resolved.RefreshEndpoint = defaultString(resolved.RefreshEndpoint, DefaultRefreshEndpoint)
	resolved.LogoutEndpoint = defaultString(resolved.LogoutEndpoint, DefaultLogoutEndpoint)
	resolved.CurrentUserEndpoint = defaultString(resolved.CurrentUserEndpoint, DefaultCurrentUserEndpoint)
	resolved.PasswordEndpoint = defaultString(resolved.PasswordEndpoint, DefaultPasswordEndpoint)
	resolved.Locale = defaultString(resolved.Locale, DefaultLocale)
	resolved.LoginRoute = defaultString(resolved.LoginRoute, DefaultLoginRoute)
	resolved.AuthErrorRoute = defaultString(resolved.AuthErrorRoute, DefaultAuthErrorRoute)
	if resolved.RequestTimeout <= 0 {
		resolved.RequestTimeout = DefaultRequestTimeout
	}
	if resolved.RefreshThreshold <= 0 {
		resolved.RefreshThreshold = DefaultRefreshThreshold
	}
	return resolved
}

func (configuration Config) parseBaseURL() (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(configuration.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("authclient.config: %w: %w", ErrInvalidBaseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("authclient.config: %w: %q needs scheme and host", ErrInvalidBaseURL, configuration.BaseURL)
	}
	return parsed, nil
}

// credentialFreePaths lists the request paths that never carry a credential.
func (configuration Config) credentialFreePaths(baseURL *url.URL) map[string]struct{} {
	paths := make(map[string]struct{}, 3)
	for _, endpoint := range []string{configuration.LoginEndpoint, configuration.RefreshEndpoint, configuration.RegisterEndpoint} {
		paths[joinPath(baseURL.Path, endpoint)] = struct{}{}
	}
	return paths
}

func joinPath(basePath string, endpoint string) string {
	withoutQuery := endpoint
	if index := strings.IndexAny(withoutQuery, "?#"); index >= 0 {
		withoutQuery = withoutQuery[:index]
	}
	return path.Join("/", basePath, withoutQuery)
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
