package devapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func TestConfigureCORSAllowsCredentialedPortal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	middleware, err := ConfigureCORS(zaptest.NewLogger(t), []string{"http://localhost:5173"})
	if err != nil {
		t.Fatalf("configure cors: %v", err)
	}
	router := gin.New()
	router.Use(middleware)
	router.POST("/auth/refresh-token", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/auth/refresh-token", nil)
	request.Header.Set("Origin", "http://localhost:5173")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("expected origin echoed, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials allowed")
	}
}

func TestSanitizeOrigins(t *testing.T) {
	logger := zaptest.NewLogger(t)
	testCases := []struct {
		name     string
		origins  []string
		expected error
	}{
		{name: "empty", origins: nil, expected: errEmptyAllowedOrigins},
		{name: "blank only", origins: []string{" "}, expected: errEmptyAllowedOrigins},
		{name: "wildcard", origins: []string{"*"}, expected: errWildcardOrigin},
		{name: "path", origins: []string{"https://portal.example.edu/app"}, expected: errInvalidOrigin},
		{name: "scheme", origins: []string{"ftp://portal.example.edu"}, expected: errInvalidOrigin},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := sanitizeOrigins(logger, testCase.origins); !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}

	sanitized, err := sanitizeOrigins(logger, []string{"https://portal.example.edu/", "HTTPS://portal.example.edu", "http://localhost:5173"})
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if len(sanitized) != 2 {
		t.Fatalf("expected deduplicated origins, got %v", sanitized)
	}
}
