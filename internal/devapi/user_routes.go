package devapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (handlers *authHandlers) handleCurrentUser(contextGin *gin.Context) {
	claims, ok := claimsFromContext(contextGin)
	if !ok {
		handlers.dependencies.Logger.Warn("missing auth claims on context",
			zap.String("code", "api.me.missing_claims"))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	profile, profileErr := handlers.dependencies.Users.Profile(contextGin, claims.UserID)
	if profileErr != nil {
		handlers.abortProfileError(contextGin, claims.UserID, profileErr)
		return
	}
	contextGin.JSON(http.StatusOK, profile)
}

func (handlers *authHandlers) handleUpdateCurrentUser(contextGin *gin.Context) {
	claims, ok := claimsFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	var changes ProfileChanges
	if err := contextGin.ShouldBindJSON(&changes); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid_json"})
		return
	}
	profile, updateErr := handlers.dependencies.Users.UpdateProfile(contextGin, claims.UserID, changes)
	if updateErr != nil {
		handlers.abortProfileError(contextGin, claims.UserID, updateErr)
		return
	}
	contextGin.JSON(http.StatusOK, profile)
}

func (handlers *authHandlers) handleChangePassword(contextGin *gin.Context) {
	claims, ok := claimsFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	var inbound struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid_json"})
		return
	}
	changeErr := handlers.dependencies.Users.ChangePassword(contextGin, claims.UserID, inbound.CurrentPassword, inbound.NewPassword)
	switch {
	case changeErr == nil:
		contextGin.JSON(http.StatusOK, gin.H{"message": "Password updated"})
	case errors.Is(changeErr, ErrWrongPassword):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Incorrect current password"})
	case errors.Is(changeErr, ErrWeakPassword):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Password must be at least 8 characters"})
	default:
		handlers.abortProfileError(contextGin, claims.UserID, changeErr)
	}
}

func (handlers *authHandlers) abortProfileError(contextGin *gin.Context, userID string, profileErr error) {
	if errors.Is(profileErr, ErrUserNotFound) {
		handlers.dependencies.Logger.Warn("user profile missing",
			zap.String("code", "api.me.profile_missing"),
			zap.String("user_id", userID))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	handlers.dependencies.Logger.Error("user profile lookup error",
		zap.String("code", "api.me.profile_error"),
		zap.String("user_id", userID),
		zap.Error(profileErr))
	contextGin.AbortWithStatus(http.StatusInternalServerError)
}
