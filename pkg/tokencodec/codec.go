// Package tokencodec reads the payload of bearer tokens without verifying
// their signature. Verification happens on the server; the client only needs
// the expiry to decide when to renew.
package tokencodec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

const tokenSegmentCount = 3

// ErrDecode reports a token whose payload could not be read.
var ErrDecode = errors.New("tokencodec.decode")

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Claims is the decoded payload of a token.
type Claims struct {
	jwt.RegisteredClaims
	Raw map[string]any
}

// ExpiresUnix returns the exp claim in epoch seconds, or 0 when absent.
func (claims *Claims) ExpiresUnix() int64 {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Unix()
}

// String returns a string claim by name.
func (claims *Claims) String(name string) string {
	if claims == nil {
		return ""
	}
	value, _ := claims.Raw[name].(string)
	return value
}

// Decode extracts the claim set from the middle segment of token.
func Decode(token string) (*Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty token", ErrDecode)
	}
	segments := strings.Split(trimmed, ".")
	if len(segments) != tokenSegmentCount {
		return nil, fmt.Errorf("%w: expected %d segments, got %d", ErrDecode, tokenSegmentCount, len(segments))
	}
	payload, decodeErr := segmentParser.DecodeSegment(segments[1])
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, decodeErr)
	}
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid utf-8", ErrDecode)
	}

	claims := &Claims{}
	if err := json.Unmarshal(payload, &claims.RegisteredClaims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := json.Unmarshal(payload, &claims.Raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return claims, nil
}

// ExpiresUnixOrZero decodes token and returns its expiry, treating any decode
// failure as an unknown expiry.
func ExpiresUnixOrZero(token string) int64 {
	claims, err := Decode(token)
	if err != nil {
		return 0
	}
	return claims.ExpiresUnix()
}
