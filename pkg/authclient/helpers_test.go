package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/authsession/pkg/credstore"
	"go.uber.org/zap/zaptest"
)

const (
	testPassword       = "correct horse"
	accessCookieName   = "access_token"
	refreshCookieName  = "refresh_token"
	defaultTestUserKey = "alice"
)

// scriptedAPI is a controllable stand-in for the remote API.
type scriptedAPI struct {
	t      *testing.T
	server *httptest.Server
	secret []byte

	mutex          sync.Mutex
	validAccess    map[string]bool
	refreshToken   string
	accessTTL      time.Duration
	refreshStatus  int
	omitRefresh    bool
	rejectAll      bool
	logoutStatus   int
	served         []string
	servedTokens   []string
	authHeaders    []string
	logoutTokens   []string
	issuedSequence int

	refreshGate  chan struct{}
	refreshCalls atomic.Int32
	userCalls    atomic.Int32
	logoutCalls  atomic.Int32
}

func newScriptedAPI(t *testing.T) *scriptedAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	api := &scriptedAPI{
		t:           t,
		secret:      []byte("scripted-secret"),
		validAccess: make(map[string]bool),
		accessTTL:   time.Hour,
	}

	router := gin.New()
	router.POST("/auth/login", api.handleLogin)
	router.POST("/auth/refresh-token", api.handleRefresh)
	router.POST("/auth/logout", api.handleLogout)
	router.GET("/api/users/me", api.handleCurrentUser)
	router.PUT("/api/users/me", api.handleUpdateUser)
	router.PUT("/api/users/me/password", api.handleChangePassword)
	router.GET("/api/items/:id", api.handleItem)
	router.POST("/api/echo", api.handleEcho)
	router.GET("/api/status/:code", api.handleStatus)
	router.GET("/api/slow", func(contextGin *gin.Context) {
		select {
		case <-contextGin.Request.Context().Done():
		case <-time.After(2 * time.Second):
		}
		contextGin.Status(http.StatusOK)
	})

	api.server = httptest.NewServer(router)
	t.Cleanup(api.server.Close)
	return api
}

func (api *scriptedAPI) mintAccessToken() string {
	api.issuedSequence++
	claims := jwt.MapClaims{
		"sub": defaultTestUserKey,
		"jti": fmt.Sprintf("access-%d", api.issuedSequence),
		"exp": time.Now().Add(api.accessTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(api.secret)
	if err != nil {
		api.t.Fatalf("sign access token: %v", err)
	}
	api.validAccess[signed] = true
	return signed
}

func (api *scriptedAPI) issuePair(contextGin *gin.Context, includeRefresh bool) {
	api.mutex.Lock()
	access := api.mintAccessToken()
	api.refreshToken = fmt.Sprintf("refresh-%d", api.issuedSequence)
	refresh := api.refreshToken
	api.mutex.Unlock()

	contextGin.SetCookie(accessCookieName, access, 3600, "/", "", false, true)
	contextGin.SetCookie(refreshCookieName, refresh, 3600, "/", "", false, true)
	payload := gin.H{"access_token": access, "token_type": "bearer"}
	if includeRefresh {
		payload["refresh_token"] = refresh
	}
	contextGin.JSON(http.StatusOK, payload)
}

func (api *scriptedAPI) handleLogin(contextGin *gin.Context) {
	if contextGin.PostForm("username") != defaultTestUserKey || contextGin.PostForm("password") != testPassword {
		contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
		return
	}
	api.issuePair(contextGin, true)
}

func (api *scriptedAPI) handleRefresh(contextGin *gin.Context) {
	api.refreshCalls.Add(1)
	api.mutex.Lock()
	gate := api.refreshGate
	status := api.refreshStatus
	omit := api.omitRefresh
	expected := api.refreshToken
	api.mutex.Unlock()

	if gate != nil {
		<-gate
	}
	if status != 0 {
		contextGin.JSON(status, gin.H{"detail": "refresh unavailable"})
		return
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = contextGin.ShouldBindJSON(&body)
	presented := body.RefreshToken
	if presented == "" {
		presented, _ = contextGin.Cookie(refreshCookieName)
	}
	if presented == "" || presented != expected {
		contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid refresh token"})
		return
	}
	api.issuePair(contextGin, !omit)
}

func (api *scriptedAPI) handleLogout(contextGin *gin.Context) {
	api.logoutCalls.Add(1)
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if contextGin.Request.ContentLength != 0 {
		_ = contextGin.ShouldBindJSON(&body)
	}
	api.mutex.Lock()
	status := api.logoutStatus
	api.logoutTokens = append(api.logoutTokens, body.RefreshToken)
	api.mutex.Unlock()
	if status != 0 {
		contextGin.Status(status)
		return
	}
	contextGin.SetCookie(accessCookieName, "", -1, "/", "", false, true)
	contextGin.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// authorize reports whether the request carries a currently valid token.
func (api *scriptedAPI) authorize(contextGin *gin.Context) (string, bool) {
	header := contextGin.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		token, _ = contextGin.Cookie(accessCookieName)
	}
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.authHeaders = append(api.authHeaders, header)
	if api.rejectAll || !api.validAccess[token] {
		return token, false
	}
	return token, true
}

func (api *scriptedAPI) handleCurrentUser(contextGin *gin.Context) {
	api.userCalls.Add(1)
	if _, ok := api.authorize(contextGin); !ok {
		contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"id": 1, "username": defaultTestUserKey, "full_name": "Nguyễn Văn A"})
}

func (api *scriptedAPI) handleUpdateUser(contextGin *gin.Context) {
	if _, ok := api.authorize(contextGin); !ok {
		contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	var changes map[string]any
	if err := contextGin.ShouldBindJSON(&changes); err != nil {
		contextGin.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	changes["id"] = 1
	changes["username"] = defaultTestUserKey
	contextGin.JSON(http.StatusOK, changes)
}

func (api *scriptedAPI) handleChangePassword(contextGin *gin.Context) {
	if _, ok := api.authorize(contextGin); !ok {
		contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	var body map[string]string
	_ = contextGin.ShouldBindJSON(&body)
	if body["current_password"] != testPassword {
		contextGin.JSON(http.StatusBadRequest, gin.H{"detail": "Current password is incorrect"})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"message": "Password changed"})
}

func (api *scriptedAPI) handleItem(contextGin *gin.Context) {
	token, ok := api.authorize(contextGin)
	if !ok {
		contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	api.mutex.Lock()
	api.served = append(api.served, contextGin.Param("id"))
	api.servedTokens = append(api.servedTokens, token)
	api.mutex.Unlock()
	contextGin.JSON(http.StatusOK, gin.H{"id": contextGin.Param("id")})
}

func (api *scriptedAPI) handleEcho(contextGin *gin.Context) {
	if _, ok := api.authorize(contextGin); !ok {
		contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	var body map[string]any
	if err := contextGin.ShouldBindJSON(&body); err != nil {
		contextGin.JSON(http.StatusBadRequest, gin.H{"detail": "empty body"})
		return
	}
	contextGin.JSON(http.StatusOK, body)
}

func (api *scriptedAPI) handleStatus(contextGin *gin.Context) {
	var code int
	if _, err := fmt.Sscanf(contextGin.Param("code"), "%d", &code); err != nil {
		contextGin.Status(http.StatusBadRequest)
		return
	}
	contextGin.JSON(code, gin.H{"detail": fmt.Sprintf("status %d", code)})
}

func (api *scriptedAPI) revokeAccessTokens() {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.validAccess = make(map[string]bool)
}

func (api *scriptedAPI) gateRefresh() chan struct{} {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.refreshGate = make(chan struct{})
	return api.refreshGate
}

func (api *scriptedAPI) setRefreshStatus(status int) {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.refreshStatus = status
}

func (api *scriptedAPI) servedOrder() []string {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	return append([]string(nil), api.served...)
}

func (api *scriptedAPI) servedWithTokens() []string {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	return append([]string(nil), api.servedTokens...)
}

func (api *scriptedAPI) recordedAuthHeaders() []string {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	return append([]string(nil), api.authHeaders...)
}

func (api *scriptedAPI) presentedLogoutTokens() []string {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	return append([]string(nil), api.logoutTokens...)
}

type recordingNavigator struct {
	mutex  sync.Mutex
	routes []string
}

func (navigator *recordingNavigator) Navigate(_ context.Context, routeName string) error {
	navigator.mutex.Lock()
	defer navigator.mutex.Unlock()
	navigator.routes = append(navigator.routes, routeName)
	return nil
}

func (navigator *recordingNavigator) visited() []string {
	navigator.mutex.Lock()
	defer navigator.mutex.Unlock()
	return append([]string(nil), navigator.routes...)
}

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

// failingTransport fails requests for one path and delegates the rest.
type failingTransport struct {
	base http.RoundTripper
	path string
}

func (transport failingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	if request.URL.Path == transport.path {
		if request.Body != nil {
			_ = request.Body.Close()
		}
		return nil, errors.New("dial tcp: connection refused")
	}
	return transport.base.RoundTrip(request)
}

type sessionFixture struct {
	api       *scriptedAPI
	session   *Session
	store     credstore.SessionStore
	navigator *recordingNavigator
	metrics   *CounterMetrics
	clock     *controllableClock
}

type fixtureOption func(*Dependencies, *Config)

func withCookieMode() fixtureOption {
	return func(dependencies *Dependencies, _ *Config) {
		dependencies.Store = credstore.NewCookieStore(credstore.NewMemoryBackend())
	}
}

func withStore(store credstore.SessionStore) fixtureOption {
	return func(dependencies *Dependencies, _ *Config) {
		dependencies.Store = store
	}
}

func withBaseTransport(transport http.RoundTripper) fixtureOption {
	return func(dependencies *Dependencies, _ *Config) {
		dependencies.BaseTransport = transport
	}
}

func withRequestTimeout(timeout time.Duration) fixtureOption {
	return func(_ *Dependencies, configuration *Config) {
		configuration.RequestTimeout = timeout
	}
}

func newSessionFixture(t *testing.T, api *scriptedAPI, options ...fixtureOption) *sessionFixture {
	t.Helper()
	fixture := &sessionFixture{
		api:       api,
		navigator: &recordingNavigator{},
		metrics:   NewCounterMetrics(),
		clock:     &controllableClock{current: time.Now()},
	}
	dependencies := Dependencies{
		Store:     credstore.NewTokenStore(credstore.NewMemoryBackend()),
		Navigator: fixture.navigator,
		Logger:    zaptest.NewLogger(t),
		Metrics:   fixture.metrics,
		Clock:     fixture.clock,
	}
	configuration := Config{BaseURL: api.server.URL}
	for _, option := range options {
		option(&dependencies, &configuration)
	}
	authSession, err := NewSession(context.Background(), configuration, dependencies)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	fixture.session = authSession
	fixture.store = dependencies.Store
	return fixture
}

func (fixture *sessionFixture) login(t *testing.T) {
	t.Helper()
	if _, err := fixture.session.Login(context.Background(), defaultTestUserKey, testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func waitUntil(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func (coordinator *refreshCoordinator) queuedWaiters() int {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	return len(coordinator.waiters)
}
