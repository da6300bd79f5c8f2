package devapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/authsession/pkg/authclient"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const (
	testStudentPassword = "student-password"
	testTeacherPassword = "teacher-password"
)

type shiftingClock struct {
	mutex  sync.Mutex
	offset time.Duration
}

func (clock *shiftingClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return time.Now().Add(clock.offset)
}

func (clock *shiftingClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.offset += duration
}

type testAPI struct {
	server        *httptest.Server
	configuration ServerConfig
	users         *InMemoryUsers
	refreshTokens *MemoryRefreshTokenStore
	metrics       *authclient.CounterMetrics
	clock         *shiftingClock
	student       UserProfile
	teacher       UserProfile
}

func testServerConfig() ServerConfig {
	return ServerConfig{
		SigningKey:        []byte("devapi-test-secret"),
		Issuer:            "authsession-devapi",
		AccessTTL:         time.Hour,
		RefreshTTL:        24 * time.Hour,
		SameSiteMode:      http.SameSiteLaxMode,
		AllowInsecureHTTP: true,
		LockoutThreshold:  3,
		LockoutWindow:     15 * time.Minute,
	}
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := &testAPI{
		configuration: testServerConfig(),
		users:         NewInMemoryUsers(bcrypt.MinCost),
		refreshTokens: NewMemoryRefreshTokenStore(),
		metrics:       authclient.NewCounterMetrics(),
		clock:         &shiftingClock{},
	}
	api.refreshTokens.now = api.clock.Now
	lockout := NewLoginLockout(api.configuration.LockoutThreshold, api.configuration.LockoutWindow)
	lockout.now = api.clock.Now

	var err error
	api.student, err = api.users.Create(context.Background(), Registration{Username: "alice", Password: testStudentPassword, FullName: "Alice", Role: RoleStudent})
	if err != nil {
		t.Fatalf("seed student: %v", err)
	}
	api.teacher, err = api.users.Create(context.Background(), Registration{Username: "bob", Password: testTeacherPassword, FullName: "Bob", Role: RoleTeacher})
	if err != nil {
		t.Fatalf("seed teacher: %v", err)
	}

	router := gin.New()
	mountErr := MountAuthRoutes(router, api.configuration, Dependencies{
		Users:         api.users,
		RefreshTokens: api.refreshTokens,
		Lockout:       lockout,
		Metrics:       api.metrics,
		Logger:        zaptest.NewLogger(t),
		Now:           api.clock.Now,
	})
	if mountErr != nil {
		t.Fatalf("mount routes: %v", mountErr)
	}
	api.server = httptest.NewServer(router)
	t.Cleanup(api.server.Close)
	return api
}

func (api *testAPI) postForm(t *testing.T, path string, username string, password string) *http.Response {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	response, err := http.PostForm(api.server.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func (api *testAPI) do(t *testing.T, method string, path string, body string, headers map[string]string, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	request, err := http.NewRequest(method, api.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func findCookie(response *http.Response, name string) *http.Cookie {
	for _, cookie := range response.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
