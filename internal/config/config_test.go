package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tyemirov/authsession/pkg/authclient"
	"github.com/tyemirov/authsession/pkg/credstore"
)

func newBoundViper(t *testing.T, arguments ...string) *viper.Viper {
	t.Helper()
	configuration := viper.New()
	flags := pflag.NewFlagSet("portal", pflag.ContinueOnError)
	if err := RegisterFlags(flags, configuration); err != nil {
		t.Fatalf("RegisterFlags: %v", err)
	}
	if err := flags.Parse(arguments); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return configuration
}

func TestLoadDefaults(t *testing.T) {
	loaded, err := Load(newBoundViper(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Client.LoginEndpoint != authclient.DefaultLoginEndpoint {
		t.Fatalf("expected default login endpoint, got %s", loaded.Client.LoginEndpoint)
	}
	if loaded.Client.RequestTimeout != 30*time.Second || loaded.Client.RefreshThreshold != 5*time.Minute {
		t.Fatalf("unexpected durations %+v", loaded.Client)
	}
	if loaded.CredentialMode != credstore.ModeToken {
		t.Fatalf("expected token mode, got %s", loaded.CredentialMode)
	}
	if loaded.StorageURL == "" {
		t.Fatalf("expected default storage url")
	}
}

func TestPortalSelectsLoginEndpoint(t *testing.T) {
	loaded, err := Load(newBoundViper(t, "--portal=teacher"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Client.LoginEndpoint != "/auth/login/teacher" {
		t.Fatalf("expected teacher login, got %s", loaded.Client.LoginEndpoint)
	}

	explicit, err := Load(newBoundViper(t, "--portal=teacher", "--login_endpoint=/custom/login"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if explicit.Client.LoginEndpoint != "/custom/login" {
		t.Fatalf("explicit endpoint must win, got %s", explicit.Client.LoginEndpoint)
	}
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("PORTAL_API_BASE_URL", "https://api.example.edu")
	t.Setenv("PORTAL_CREDENTIAL_MODE", "cookie")
	t.Setenv("PORTAL_REFRESH_THRESHOLD", "2m")

	loaded, err := Load(newBoundViper(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Client.BaseURL != "https://api.example.edu" || loaded.CredentialMode != credstore.ModeCookie {
		t.Fatalf("expected env overrides, got %+v", loaded)
	}
	if loaded.Client.RefreshThreshold != 2*time.Minute {
		t.Fatalf("expected 2m threshold, got %s", loaded.Client.RefreshThreshold)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name      string
		arguments []string
		expected  string
	}{
		{name: "missing base url", arguments: []string{"--api_base_url="}, expected: "config.missing_api_base_url: api_base_url must be provided"},
		{name: "unknown portal", arguments: []string{"--portal=parent"}, expected: "config.invalid_portal: portal must be one of default, admin, teacher, student"},
		{name: "bad mode", arguments: []string{"--credential_mode=session"}, expected: "config.invalid_credential_mode: credential_mode must be token or cookie"},
		{name: "missing storage", arguments: []string{"--storage_url="}, expected: "config.missing_storage_url: storage_url must be provided"},
		{name: "negative timeout", arguments: []string{"--request_timeout=-1s"}, expected: "config.invalid_request_timeout: request_timeout must be greater than zero"},
		{name: "huge threshold", arguments: []string{"--refresh_threshold=48h"}, expected: "config.invalid_refresh_threshold: refresh_threshold must be between zero and 24h"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Load(newBoundViper(t, testCase.arguments...))
			if err == nil || err.Error() != testCase.expected {
				t.Fatalf("expected %q, got %v", testCase.expected, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file must be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PORTAL_LOCALE_DOTENV_TEST=vi\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("PORTAL_LOCALE_DOTENV_TEST", "")
	if err := os.Unsetenv("PORTAL_LOCALE_DOTENV_TEST"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("PORTAL_LOCALE_DOTENV_TEST"); got != "vi" {
		t.Fatalf("expected dotenv value, got %q", got)
	}
}
