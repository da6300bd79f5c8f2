package devapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/authsession/pkg/authclient"
	"go.uber.org/zap"
)

// Events recorded by the API.
const (
	metricLoginSuccess   = "devapi.login.success"
	metricLoginFailure   = "devapi.login.failure"
	metricLoginLocked    = "devapi.login.locked"
	metricLoginForbidden = "devapi.login.forbidden"
	metricRefreshSuccess = "devapi.refresh.success"
	metricRefreshFailure = "devapi.refresh.failure"
	metricLogout         = "devapi.logout"
	metricRegister       = "devapi.register"
)

// Dependencies are the collaborators of the API routes.
type Dependencies struct {
	Users         UserStore
	RefreshTokens RefreshTokenStore
	Lockout       *LoginLockout
	Metrics       authclient.MetricsRecorder
	Logger        *zap.Logger
	Now           func() time.Time
}

func (dependencies Dependencies) withDefaults() Dependencies {
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	if dependencies.Metrics == nil {
		dependencies.Metrics = authclient.NewCounterMetrics()
	}
	if dependencies.Now == nil {
		dependencies.Now = time.Now
	}
	return dependencies
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type authHandlers struct {
	configuration ServerConfig
	dependencies  Dependencies
}

// MountAuthRoutes registers login (with portal variants), register, refresh,
// logout, and the current-user endpoints.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, dependencies Dependencies) error {
	if dependencies.Users == nil || dependencies.RefreshTokens == nil {
		return errMissingStores
	}
	handlers := &authHandlers{configuration: configuration, dependencies: dependencies.withDefaults()}
	validator, validatorErr := NewAccessValidator(configuration, handlers.dependencies.Now)
	if validatorErr != nil {
		return fmt.Errorf("devapi.mount: %w", validatorErr)
	}

	router.POST("/auth/login", handlers.handleLogin)
	router.POST("/auth/login/:portal", handlers.handleLogin)
	router.POST("/auth/register", handlers.handleRegister)
	router.POST("/auth/refresh-token", handlers.handleRefresh)
	router.POST("/auth/logout", handlers.handleLogout)

	protected := router.Group("/api/users")
	protected.Use(RequireSession(validator))
	protected.GET("/me", handlers.handleCurrentUser)
	protected.PUT("/me", handlers.handleUpdateCurrentUser)
	protected.PUT("/me/password", handlers.handleChangePassword)
	return nil
}

func (handlers *authHandlers) handleLogin(contextGin *gin.Context) {
	logger := handlers.dependencies.Logger
	portal := strings.ToLower(contextGin.Param("portal"))
	if portal != "" && !ValidRole(portal) {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Unknown portal"})
		return
	}
	if !handlers.configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "https_required"})
		return
	}

	username := strings.TrimSpace(contextGin.PostForm("username"))
	password := contextGin.PostForm("password")
	if username == "" || password == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "username and password are required"})
		return
	}
	if handlers.dependencies.Lockout.Locked(username) {
		handlers.dependencies.Metrics.Increment(metricLoginLocked)
		contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "Account temporarily locked. Try again later."})
		return
	}

	profile, authErr := handlers.dependencies.Users.Authenticate(contextGin, username, password)
	if authErr != nil {
		if !errors.Is(authErr, ErrUserNotFound) && !errors.Is(authErr, ErrWrongPassword) {
			logger.Error("login lookup failed",
				zap.String("code", "api.login.lookup_error"),
				zap.Error(authErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		handlers.dependencies.Metrics.Increment(metricLoginFailure)
		if handlers.dependencies.Lockout.RecordFailure(username) {
			logger.Warn("account locked",
				zap.String("code", "api.login.locked"),
				zap.String("username", username))
		}
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
		return
	}
	if portal != "" && profile.Role != portal {
		handlers.dependencies.Metrics.Increment(metricLoginForbidden)
		contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Account is not allowed to use the " + portal + " portal"})
		return
	}
	handlers.dependencies.Lockout.Reset(username)

	pair, issueErr := handlers.issueSession(contextGin, profile, "")
	if issueErr != nil {
		logger.Error("session issue failed",
			zap.String("code", "api.login.issue_error"),
			zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	handlers.dependencies.Metrics.Increment(metricLoginSuccess)
	logger.Info("login", zap.String("user_id", profile.ID), zap.String("portal", portal))
	contextGin.JSON(http.StatusOK, pair)
}

func (handlers *authHandlers) handleRegister(contextGin *gin.Context) {
	var registration Registration
	if err := contextGin.ShouldBindJSON(&registration); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid_json"})
		return
	}
	if registration.Role != "" && !strings.EqualFold(registration.Role, RoleStudent) {
		contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Only student accounts can self-register"})
		return
	}
	profile, createErr := handlers.dependencies.Users.Create(contextGin, registration)
	switch {
	case createErr == nil:
	case errors.Is(createErr, ErrUserExists):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Username already registered"})
		return
	case errors.Is(createErr, ErrWeakPassword):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Password must be at least 8 characters"})
		return
	case errors.Is(createErr, ErrInvalidUsername), errors.Is(createErr, ErrInvalidRole):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": createErr.Error()})
		return
	default:
		handlers.dependencies.Logger.Error("registration failed",
			zap.String("code", "api.register.error"),
			zap.Error(createErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	handlers.dependencies.Metrics.Increment(metricRegister)
	contextGin.JSON(http.StatusCreated, profile)
}

func (handlers *authHandlers) handleRefresh(contextGin *gin.Context) {
	presented := handlers.presentedRefreshToken(contextGin)
	if presented == "" {
		handlers.dependencies.Metrics.Increment(metricRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Refresh token missing"})
		return
	}

	applicationUserID, currentTokenID, _, validateErr := handlers.dependencies.RefreshTokens.Validate(contextGin, presented)
	if validateErr != nil {
		handlers.dependencies.Metrics.Increment(metricRefreshFailure)
		handlers.dependencies.Logger.Debug("refresh rejected",
			zap.String("code", "api.refresh.invalid"),
			zap.Error(validateErr))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid refresh token"})
		return
	}
	profile, profileErr := handlers.dependencies.Users.Profile(contextGin, applicationUserID)
	if profileErr != nil {
		handlers.dependencies.Metrics.Increment(metricRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid refresh token"})
		return
	}
	if revokeErr := handlers.dependencies.RefreshTokens.Revoke(contextGin, currentTokenID); revokeErr != nil {
		handlers.dependencies.Metrics.Increment(metricRefreshFailure)
		if errors.Is(revokeErr, ErrRefreshTokenAlreadyRevoked) {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid refresh token"})
			return
		}
		handlers.dependencies.Logger.Error("refresh revoke failed",
			zap.String("code", "api.refresh.revoke_error"),
			zap.Error(revokeErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	pair, issueErr := handlers.issueSession(contextGin, profile, currentTokenID)
	if issueErr != nil {
		handlers.dependencies.Logger.Error("session issue failed",
			zap.String("code", "api.refresh.issue_error"),
			zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	handlers.dependencies.Metrics.Increment(metricRefreshSuccess)
	contextGin.JSON(http.StatusOK, pair)
}

func (handlers *authHandlers) handleLogout(contextGin *gin.Context) {
	if presented := handlers.presentedRefreshToken(contextGin); presented != "" {
		_, tokenID, _, validateErr := handlers.dependencies.RefreshTokens.Validate(contextGin, presented)
		if validateErr == nil && tokenID != "" {
			_ = handlers.dependencies.RefreshTokens.Revoke(contextGin, tokenID)
		}
	}
	clearCookie(contextGin, handlers.configuration, handlers.configuration.accessCookieName(), "/")
	clearCookie(contextGin, handlers.configuration, handlers.configuration.refreshCookieName(), "/auth")
	handlers.dependencies.Metrics.Increment(metricLogout)
	contextGin.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// issueSession mints an access token and a rotated refresh token, writes
// both cookies, and returns the body for token-mode clients.
func (handlers *authHandlers) issueSession(contextGin *gin.Context, profile UserProfile, previousTokenID string) (tokenPair, error) {
	now := handlers.dependencies.Now().UTC()
	accessToken, accessExpiresAt, mintErr := MintAccessToken(handlers.configuration, profile, now)
	if mintErr != nil {
		return tokenPair{}, mintErr
	}
	refreshExpiresAt := now.Add(handlers.configuration.RefreshTTL)
	_, refreshOpaque, issueErr := handlers.dependencies.RefreshTokens.Issue(contextGin, profile.ID, refreshExpiresAt.Unix(), previousTokenID)
	if issueErr != nil {
		return tokenPair{}, issueErr
	}
	writeCookie(contextGin, handlers.configuration, handlers.configuration.accessCookieName(), accessToken, "/", accessExpiresAt)
	writeCookie(contextGin, handlers.configuration, handlers.configuration.refreshCookieName(), refreshOpaque, "/auth", refreshExpiresAt)
	return tokenPair{AccessToken: accessToken, RefreshToken: refreshOpaque, TokenType: "bearer"}, nil
}

func (handlers *authHandlers) presentedRefreshToken(contextGin *gin.Context) string {
	var inbound struct {
		RefreshToken string `json:"refresh_token"`
	}
	if contextGin.Request.ContentLength != 0 {
		_ = contextGin.ShouldBindJSON(&inbound)
	}
	if token := strings.TrimSpace(inbound.RefreshToken); token != "" {
		return token
	}
	refreshCookie, cookieErr := contextGin.Request.Cookie(handlers.configuration.refreshCookieName())
	if cookieErr != nil || refreshCookie == nil {
		return ""
	}
	return strings.TrimSpace(refreshCookie.Value)
}

func writeCookie(contextGin *gin.Context, configuration ServerConfig, name string, value string, path string, expiresAt time.Time) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func clearCookie(contextGin *gin.Context, configuration ServerConfig, name string, path string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	if strings.EqualFold(request.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	return splitErr == nil && host == "localhost"
}
