package devapi

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tyemirov/authsession/pkg/sessionvalidator"
)

// MintAccessToken creates a signed HS256 access token for profile.
func MintAccessToken(configuration ServerConfig, profile UserProfile, issuedAt time.Time) (string, time.Time, error) {
	issuedAt = issuedAt.UTC()
	expiresAt := issuedAt.Add(configuration.AccessTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionvalidator.Claims{
		UserID:   profile.ID,
		Username: profile.Username,
		Role:     profile.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    configuration.Issuer,
			Subject:   profile.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(configuration.SigningKey)
	return signed, expiresAt, err
}

// NewAccessValidator verifies tokens minted by MintAccessToken against now.
func NewAccessValidator(configuration ServerConfig, now func() time.Time) (*sessionvalidator.Validator, error) {
	if now == nil {
		now = time.Now
	}
	return sessionvalidator.New(sessionvalidator.Config{
		SigningKey: configuration.SigningKey,
		Issuer:     configuration.Issuer,
		CookieName: configuration.accessCookieName(),
		Clock:      sessionvalidator.ClockFunc(now),
	})
}
