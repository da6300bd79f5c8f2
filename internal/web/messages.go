package web

import (
	"errors"
	"net/http"

	"github.com/tyemirov/authsession/pkg/authclient"
)

// loginFailure maps a login error onto the status and message shown on the
// login page.
func loginFailure(err error) (int, string) {
	switch {
	case errors.Is(err, authclient.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Incorrect username or password."
	case errors.Is(err, authclient.ErrForbidden):
		return http.StatusForbidden, "This account cannot sign in to this portal."
	case errors.Is(err, authclient.ErrAccountLocked):
		return http.StatusTooManyRequests, "Too many failed attempts. Try again later."
	case errors.Is(err, authclient.ErrNetwork):
		return http.StatusBadGateway, "The server could not be reached."
	default:
		return http.StatusBadGateway, "Sign-in failed. Try again."
	}
}

func registerFailure(err error) (int, string) {
	var apiError *authclient.APIError
	if errors.As(err, &apiError) && apiError.Detail != "" &&
		(errors.Is(err, authclient.ErrBadRequest) || errors.Is(err, authclient.ErrForbidden)) {
		return http.StatusBadRequest, apiError.Detail
	}
	if errors.Is(err, authclient.ErrNetwork) {
		return http.StatusBadGateway, "The server could not be reached."
	}
	return http.StatusBadGateway, "Registration failed. Try again."
}
