// Package authclient keeps an authenticated API session alive: it attaches
// the credential to outgoing requests, renews it before expiry, coalesces
// concurrent renewals into one refresh call and replays the requests that
// were rejected meanwhile.
package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/tyemirov/authsession/pkg/credstore"
	"github.com/tyemirov/authsession/pkg/session"
	"github.com/tyemirov/authsession/pkg/tokencodec"
	"go.uber.org/zap"
)

var (
	errMissingRefreshToken = errors.New("authclient.refresh.missing_token")
	errEmptyRefreshResult  = errors.New("authclient.refresh.empty_token")
	errStaleGeneration     = errors.New("authclient.refresh.stale_session")
)

// storedCredentialKey marks a request that carries the stored token as is,
// without a proactive refresh.
type storedCredentialKey struct{}

// Navigator moves the application to a named route.
type Navigator interface {
	Navigate(ctx context.Context, routeName string) error
}

// Dependencies are the collaborators injected into a Session.
type Dependencies struct {
	Store     credstore.SessionStore
	Navigator Navigator
	Logger    *zap.Logger
	Metrics   MetricsRecorder
	Clock     Clock
	// BaseTransport performs the network I/O. Defaults to http.DefaultTransport.
	BaseTransport http.RoundTripper
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Session is the single owner of the credential lifecycle for one API.
type Session struct {
	configuration Config
	store         credstore.SessionStore
	state         *session.State
	client        *Client
	coordinator   *refreshCoordinator
	logger        *zap.Logger
	metrics       MetricsRecorder
	clock         Clock

	navigatorMutex sync.RWMutex
	navigator      Navigator

	generation atomic.Uint64
}

// NewSession validates the configuration and wires the client, transport and
// refresh coordinator around the injected store.
func NewSession(ctx context.Context, configuration Config, dependencies Dependencies) (*Session, error) {
	resolved := configuration.withDefaults()
	baseURL, err := resolved.parseBaseURL()
	if err != nil {
		return nil, err
	}
	if dependencies.Store == nil {
		return nil, ErrMissingStore
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := dependencies.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = systemClock{}
	}
	baseTransport := dependencies.BaseTransport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	authSession := &Session{
		configuration: resolved,
		store:         dependencies.Store,
		state:         session.NewState(ctx, dependencies.Store, logger),
		logger:        logger,
		metrics:       metrics,
		clock:         clock,
		navigator:     dependencies.Navigator,
	}
	authSession.coordinator = newRefreshCoordinator(authSession.refreshCredential, authSession.forceTeardown, resolved.RequestTimeout, logger, metrics)

	transport := &Transport{
		base:           baseTransport,
		session:        authSession,
		credentialFree: resolved.credentialFreePaths(baseURL),
		logger:         logger,
	}
	httpClient := &http.Client{Transport: transport, Timeout: resolved.RequestTimeout}
	if dependencies.Store.Mode() == credstore.ModeCookie {
		jar, jarErr := cookiejar.New(nil)
		if jarErr != nil {
			return nil, fmt.Errorf("authclient.cookiejar: %w", jarErr)
		}
		httpClient.Jar = jar
		transport.jar = jar
	}
	authSession.client = &Client{httpClient: httpClient, baseURL: baseURL, locale: resolved.Locale}
	return authSession, nil
}

// SetNavigator installs the navigator used on login, logout and teardown.
func (authSession *Session) SetNavigator(navigator Navigator) {
	authSession.navigatorMutex.Lock()
	defer authSession.navigatorMutex.Unlock()
	authSession.navigator = navigator
}

// Client returns the API client whose requests carry the session credential.
func (authSession *Session) Client() *Client {
	return authSession.client
}

// State exposes the session state.
func (authSession *Session) State() *session.State {
	return authSession.state
}

// Config returns the resolved configuration.
func (authSession *Session) Config() Config {
	return authSession.configuration
}

// IsAuthenticated reports whether the server has confirmed the session.
func (authSession *Session) IsAuthenticated() bool {
	return authSession.state.IsAuthenticated()
}

// Login exchanges username and password for a credential and loads the
// user profile. A rejected login leaves the session untouched.
func (authSession *Session) Login(ctx context.Context, username string, password string) (session.User, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var response tokenResponse
	if err := authSession.client.Do(ctx, http.MethodPost, authSession.configuration.LoginEndpoint, form, &response); err != nil {
		authSession.metrics.Increment(metricAuthLoginFailure)
		var apiError *APIError
		if errors.As(err, &apiError) && apiError.Kind == ErrUnauthorized {
			rejected := *apiError
			rejected.Kind = ErrInvalidCredentials
			err = &rejected
		}
		authSession.logger.Info("login rejected",
			zap.String("code", "authclient.login.failed"),
			zap.Error(err))
		return nil, err
	}

	if authSession.store.Mode() == credstore.ModeToken {
		if response.AccessToken == "" {
			authSession.metrics.Increment(metricAuthLoginFailure)
			return nil, &APIError{Kind: ErrInvalidCredentials, Method: http.MethodPost, Path: authSession.configuration.LoginEndpoint, Cause: errMissingAccessKey}
		}
		credential := credstore.Credential{
			AccessToken:  response.AccessToken,
			RefreshToken: response.RefreshToken,
			ExpiresUnix:  tokencodec.ExpiresUnixOrZero(response.AccessToken),
		}
		if err := authSession.store.Save(ctx, credential); err != nil {
			return nil, fmt.Errorf("authclient.login.persist: %w", err)
		}
	}
	authSession.generation.Add(1)
	authSession.coordinator.reset()

	user, err := authSession.FetchCurrentUser(ctx)
	if err != nil {
		authSession.metrics.Increment(metricAuthLoginFailure)
		authSession.generation.Add(1)
		authSession.clearSession(ctx)
		authSession.logger.Warn("login profile fetch failed",
			zap.String("code", "authclient.login.profile_failed"),
			zap.Error(err))
		return nil, err
	}
	authSession.metrics.Increment(metricAuthLoginSuccess)
	authSession.logger.Info("login succeeded",
		zap.String("username", username))
	return user, nil
}

// Register creates an account. The session is not changed.
func (authSession *Session) Register(ctx context.Context, payload any) (map[string]any, error) {
	var created map[string]any
	if err := authSession.client.Do(ctx, http.MethodPost, authSession.configuration.RegisterEndpoint, payload, &created); err != nil {
		authSession.logger.Info("registration rejected",
			zap.String("code", "authclient.register.failed"),
			zap.Error(err))
		return nil, err
	}
	return created, nil
}

// EnsureFreshAccessToken returns the token to attach to a request, renewing
// it first when it is close to expiry. Cookie sessions attach nothing.
func (authSession *Session) EnsureFreshAccessToken(ctx context.Context) (string, error) {
	if authSession.store.Mode() == credstore.ModeCookie {
		return "", nil
	}
	credential, ok := authSession.store.Load(ctx)
	if !ok {
		return "", nil
	}
	if !credential.ExpiryKnown() || ctx.Value(storedCredentialKey{}) != nil {
		return credential.AccessToken, nil
	}
	remaining := credential.Remaining(authSession.clock.Now())
	if remaining <= 0 && !authSession.state.AuthVerified() {
		authSession.logger.Debug("stored credential expired before session start",
			zap.String("code", "authclient.credential.stale"))
		if err := authSession.store.Clear(ctx); err != nil {
			authSession.logger.Warn("stale credential not cleared",
				zap.String("code", "authclient.credential.clear_failed"),
				zap.Error(err))
		}
		return "", nil
	}
	if remaining >= authSession.configuration.RefreshThreshold {
		return credential.AccessToken, nil
	}

	authSession.metrics.Increment(metricAuthRefreshProactive)
	refreshed, err := authSession.coordinator.refreshOnce(ctx, "")
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh renews the credential. Concurrent callers share one refresh call.
func (authSession *Session) Refresh(ctx context.Context) (credstore.Credential, error) {
	credential, err := authSession.coordinator.refreshOnce(ctx, "")
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return credstore.Credential{}, sessionExpiredError(nil, err)
		}
		return credstore.Credential{}, err
	}
	return credential, nil
}

// refreshCredential performs the refresh call. Only the coordinator calls it.
func (authSession *Session) refreshCredential(ctx context.Context) (credstore.Credential, error) {
	generation := authSession.generation.Load()
	mode := authSession.store.Mode()

	var previous credstore.Credential
	payload := map[string]string{}
	if mode == credstore.ModeToken {
		stored, ok := authSession.store.Load(ctx)
		if !ok || stored.RefreshToken == "" {
			return credstore.Credential{}, sessionExpiredError(nil, errMissingRefreshToken)
		}
		previous = stored
		payload["refresh_token"] = stored.RefreshToken
	}

	var response tokenResponse
	if err := authSession.client.Do(ctx, http.MethodPost, authSession.configuration.RefreshEndpoint, payload, &response); err != nil {
		return credstore.Credential{}, sessionExpiredError(nil, err)
	}
	if authSession.generation.Load() != generation {
		return credstore.Credential{}, sessionExpiredError(nil, errStaleGeneration)
	}
	if mode == credstore.ModeCookie {
		return credstore.Credential{}, nil
	}
	if response.AccessToken == "" {
		return credstore.Credential{}, sessionExpiredError(nil, errEmptyRefreshResult)
	}

	renewed := credstore.Credential{
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
		ExpiresUnix:  tokencodec.ExpiresUnixOrZero(response.AccessToken),
	}
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = previous.RefreshToken
	}
	if err := authSession.store.Save(ctx, renewed); err != nil {
		return credstore.Credential{}, sessionExpiredError(nil, fmt.Errorf("authclient.refresh.persist: %w", err))
	}
	authSession.logger.Debug("credential refreshed",
		zap.Int64("expires_unix", renewed.ExpiresUnix))
	return renewed, nil
}

// rotatedAccessToken reports a stored token that differs from the one a
// rejected request carried, meaning a refresh already completed.
func (authSession *Session) rotatedAccessToken(ctx context.Context, sentToken string) (string, bool) {
	if sentToken == "" || authSession.store.Mode() != credstore.ModeToken {
		return "", false
	}
	current, ok := authSession.store.Load(ctx)
	if !ok || current.AccessToken == "" || current.AccessToken == sentToken {
		return "", false
	}
	return current.AccessToken, true
}

// Logout ends the session locally even when the server cannot be reached.
// The remote call carries the stored credential unchanged; in token mode the
// refresh token is sent so the server can revoke it.
func (authSession *Session) Logout(ctx context.Context) error {
	var payload any
	if authSession.store.Mode() == credstore.ModeToken {
		if stored, ok := authSession.store.Load(ctx); ok && stored.RefreshToken != "" {
			payload = map[string]string{"refresh_token": stored.RefreshToken}
		}
	}
	authSession.generation.Add(1)
	authSession.coordinator.markExpired()

	remoteContext := context.WithValue(ctx, storedCredentialKey{}, true)
	if err := authSession.client.Do(remoteContext, http.MethodPost, authSession.configuration.LogoutEndpoint, payload, nil); err != nil {
		authSession.logger.Warn("logout call failed",
			zap.String("code", "authclient.logout.remote_failed"),
			zap.Error(err))
	}
	authSession.clearSession(ctx)
	authSession.metrics.Increment(metricAuthLogoutSuccess)
	return authSession.navigate(ctx, authSession.configuration.LoginRoute)
}

// CheckAuth reports whether the session is valid, asking the server only
// when this process has not verified it yet.
func (authSession *Session) CheckAuth(ctx context.Context) bool {
	if authSession.state.IsAuthenticated() {
		authSession.metrics.Increment(metricAuthCheckShortCircuit)
		return true
	}
	if _, err := authSession.FetchCurrentUser(ctx); err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSessionExpired) {
			authSession.logger.Debug("session not authenticated",
				zap.String("code", "authclient.check.unauthenticated"))
		} else {
			authSession.logger.Error("session check failed",
				zap.String("code", "authclient.check.failed"),
				zap.Error(err))
		}
		return false
	}
	return true
}

// FetchCurrentUser loads the profile and marks the session verified. Any
// failure resets the state.
func (authSession *Session) FetchCurrentUser(ctx context.Context) (session.User, error) {
	var user session.User
	if err := authSession.client.Do(ctx, http.MethodGet, authSession.configuration.CurrentUserEndpoint, nil, &user); err != nil {
		authSession.state.Reset(ctx)
		return nil, err
	}
	if user == nil {
		authSession.state.Reset(ctx)
		return nil, &APIError{Kind: ErrServer, Method: http.MethodGet, Path: authSession.configuration.CurrentUserEndpoint, Detail: "empty profile"}
	}
	authSession.state.SetUser(ctx, user)
	return user, nil
}

// UpdateProfile sends profile changes and caches the returned user.
func (authSession *Session) UpdateProfile(ctx context.Context, payload any) (session.User, error) {
	var user session.User
	if err := authSession.client.Do(ctx, http.MethodPut, authSession.configuration.CurrentUserEndpoint, payload, &user); err != nil {
		authSession.logger.Error("profile update failed",
			zap.String("code", "authclient.profile.update_failed"),
			zap.Error(err))
		return nil, err
	}
	if user != nil {
		authSession.state.SetUser(ctx, user)
	}
	return user, nil
}

// ChangePassword submits a password change.
func (authSession *Session) ChangePassword(ctx context.Context, payload any) (map[string]any, error) {
	var result map[string]any
	if err := authSession.client.Do(ctx, http.MethodPut, authSession.configuration.PasswordEndpoint, payload, &result); err != nil {
		authSession.logger.Error("password change failed",
			zap.String("code", "authclient.password.change_failed"),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// forceTeardown ends the session after a failed refresh. The auth-error
// route is shown only when there was a session to lose.
func (authSession *Session) forceTeardown(ctx context.Context, cause error) {
	_, hadCredential := authSession.store.Load(ctx)
	hadSession := hadCredential || authSession.state.AuthVerified()

	authSession.coordinator.markExpired()
	authSession.clearSession(ctx)
	authSession.metrics.Increment(metricAuthSessionExpired)
	authSession.logger.Warn("session expired",
		zap.String("code", "authclient.session.expired"),
		zap.Bool("had_session", hadSession),
		zap.Error(cause))
	if !hadSession {
		return
	}
	if err := authSession.navigate(ctx, authSession.configuration.AuthErrorRoute); err != nil {
		authSession.logger.Warn("auth error navigation failed",
			zap.String("code", "authclient.navigate.failed"),
			zap.Error(err))
	}
}

func (authSession *Session) clearSession(ctx context.Context) {
	if err := authSession.store.Clear(ctx); err != nil {
		authSession.logger.Warn("credential store not cleared",
			zap.String("code", "authclient.credential.clear_failed"),
			zap.Error(err))
	}
	authSession.state.Reset(ctx)
}

func (authSession *Session) navigate(ctx context.Context, routeName string) error {
	authSession.navigatorMutex.RLock()
	navigator := authSession.navigator
	authSession.navigatorMutex.RUnlock()
	if navigator == nil {
		return nil
	}
	return navigator.Navigate(ctx, routeName)
}
