package devapi

import (
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/authsession/pkg/sessionvalidator"
)

const claimsContextKey = sessionvalidator.DefaultContextKey

// RequireSession accepts a bearer token or the access cookie and injects the
// verified claims.
func RequireSession(validator *sessionvalidator.Validator) gin.HandlerFunc {
	return validator.GinMiddleware(claimsContextKey)
}

func claimsFromContext(contextGin *gin.Context) (*sessionvalidator.Claims, bool) {
	claims, ok := sessionvalidator.ClaimsFromContext(contextGin, claimsContextKey)
	return claims, ok && claims.UserID != ""
}
