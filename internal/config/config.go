// Package config loads the portal client configuration from flags,
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tyemirov/authsession/pkg/authclient"
	"github.com/tyemirov/authsession/pkg/credstore"
)

// EnvPrefix prefixes every environment variable, e.g. PORTAL_API_BASE_URL.
const EnvPrefix = "PORTAL"

// Keys shared by flags, environment variables and viper.
const (
	KeyAPIBaseURL          = "api_base_url"
	KeyPortal              = "portal"
	KeyLoginEndpoint       = "login_endpoint"
	KeyRegisterEndpoint    = "register_endpoint"
	KeyRefreshEndpoint     = "refresh_endpoint"
	KeyLogoutEndpoint      = "logout_endpoint"
	KeyCurrentUserEndpoint = "current_user_endpoint"
	KeyPasswordEndpoint    = "password_endpoint"
	KeyCredentialMode      = "credential_mode"
	KeyStorageURL          = "storage_url"
	KeyRequestTimeout      = "request_timeout"
	KeyRefreshThreshold    = "refresh_threshold"
	KeyLocale              = "locale"
)

const (
	configCodeMissingBaseURL       = "config.missing_api_base_url"
	configCodeInvalidPortal        = "config.invalid_portal"
	configCodeInvalidMode          = "config.invalid_credential_mode"
	configCodeMissingStorageURL    = "config.missing_storage_url"
	configCodeInvalidTimeout       = "config.invalid_request_timeout"
	configCodeInvalidRefreshWindow = "config.invalid_refresh_threshold"
	configCodeDotEnv               = "config.dotenv"
)

// PortalConfig is everything needed to build a portal session.
type PortalConfig struct {
	Client         authclient.Config
	CredentialMode credstore.Mode
	StorageURL     string
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadDotEnv loads variables from path without overriding the environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%s: %w", configCodeDotEnv, err)
	}
	return nil
}

// DefaultStorageURL places the session file in the user config directory.
func DefaultStorageURL() string {
	directory, err := os.UserConfigDir()
	if err != nil || directory == "" {
		directory = os.TempDir()
	}
	return "file://" + filepath.ToSlash(filepath.Join(directory, "authsession", "session.json"))
}

// RegisterFlags declares the portal flags and binds them to configuration.
func RegisterFlags(flags *pflag.FlagSet, configuration *viper.Viper) error {
	flags.String(KeyAPIBaseURL, "http://localhost:8000", "Base URL of the remote API")
	flags.String(KeyPortal, "default", "Portal variant selecting the login endpoint (default|admin|teacher|student)")
	flags.String(KeyLoginEndpoint, "", "Login endpoint path; overrides --portal")
	flags.String(KeyRegisterEndpoint, authclient.DefaultRegisterEndpoint, "Registration endpoint path")
	flags.String(KeyRefreshEndpoint, authclient.DefaultRefreshEndpoint, "Refresh endpoint path")
	flags.String(KeyLogoutEndpoint, authclient.DefaultLogoutEndpoint, "Logout endpoint path")
	flags.String(KeyCurrentUserEndpoint, authclient.DefaultCurrentUserEndpoint, "Current user endpoint path")
	flags.String(KeyPasswordEndpoint, authclient.DefaultPasswordEndpoint, "Password change endpoint path")
	flags.String(KeyCredentialMode, string(credstore.ModeToken), "Credential transport (token|cookie)")
	flags.String(KeyStorageURL, DefaultStorageURL(), "Session storage (memory://, file://, sqlite://, redis://, postgres://)")
	flags.Duration(KeyRequestTimeout, authclient.DefaultRequestTimeout, "Timeout applied to every request")
	flags.Duration(KeyRefreshThreshold, authclient.DefaultRefreshThreshold, "Renew the access token when less than this remains")
	flags.String(KeyLocale, authclient.DefaultLocale, "Value sent as Accept-Language")

	for _, key := range []string{
		KeyAPIBaseURL, KeyPortal, KeyLoginEndpoint, KeyRegisterEndpoint, KeyRefreshEndpoint,
		KeyLogoutEndpoint, KeyCurrentUserEndpoint, KeyPasswordEndpoint, KeyCredentialMode,
		KeyStorageURL, KeyRequestTimeout, KeyRefreshThreshold, KeyLocale,
	} {
		if err := configuration.BindPFlag(key, flags.Lookup(key)); err != nil {
			return fmt.Errorf("config.bind %s: %w", key, err)
		}
	}
	configuration.SetEnvPrefix(EnvPrefix)
	configuration.AutomaticEnv()
	return nil
}

// Load validates the bound configuration.
func Load(configuration *viper.Viper) (PortalConfig, error) {
	baseURL := strings.TrimSpace(configuration.GetString(KeyAPIBaseURL))
	if baseURL == "" {
		return PortalConfig{}, configError(configCodeMissingBaseURL, "api_base_url must be provided")
	}

	loginEndpoint := strings.TrimSpace(configuration.GetString(KeyLoginEndpoint))
	if loginEndpoint == "" {
		portalEndpoint, err := authclient.PortalLoginEndpoint(configuration.GetString(KeyPortal))
		if err != nil {
			return PortalConfig{}, configError(configCodeInvalidPortal, "portal must be one of default, admin, teacher, student")
		}
		loginEndpoint = portalEndpoint
	}

	mode := credstore.Mode(strings.ToLower(strings.TrimSpace(configuration.GetString(KeyCredentialMode))))
	if mode == "" {
		mode = credstore.ModeToken
	}
	if mode != credstore.ModeToken && mode != credstore.ModeCookie {
		return PortalConfig{}, configError(configCodeInvalidMode, "credential_mode must be token or cookie")
	}

	storageURL := strings.TrimSpace(configuration.GetString(KeyStorageURL))
	if storageURL == "" {
		return PortalConfig{}, configError(configCodeMissingStorageURL, "storage_url must be provided")
	}

	requestTimeout := configuration.GetDuration(KeyRequestTimeout)
	if requestTimeout == 0 {
		requestTimeout = authclient.DefaultRequestTimeout
	}
	if requestTimeout < 0 {
		return PortalConfig{}, configError(configCodeInvalidTimeout, "request_timeout must be greater than zero")
	}
	refreshThreshold := configuration.GetDuration(KeyRefreshThreshold)
	if refreshThreshold == 0 {
		refreshThreshold = authclient.DefaultRefreshThreshold
	}
	if refreshThreshold < 0 || refreshThreshold >= 24*time.Hour {
		return PortalConfig{}, configError(configCodeInvalidRefreshWindow, "refresh_threshold must be between zero and 24h")
	}

	return PortalConfig{
		Client: authclient.Config{
			BaseURL:             baseURL,
			LoginEndpoint:       loginEndpoint,
			RegisterEndpoint:    configuration.GetString(KeyRegisterEndpoint),
			RefreshEndpoint:     configuration.GetString(KeyRefreshEndpoint),
			LogoutEndpoint:      configuration.GetString(KeyLogoutEndpoint),
			CurrentUserEndpoint: configuration.GetString(KeyCurrentUserEndpoint),
			PasswordEndpoint:    configuration.GetString(KeyPasswordEndpoint),
			RequestTimeout:      requestTimeout,
			RefreshThreshold:    refreshThreshold,
			Locale:              configuration.GetString(KeyLocale),
		},
		CredentialMode: mode,
		StorageURL:     storageURL,
	}, nil
}
