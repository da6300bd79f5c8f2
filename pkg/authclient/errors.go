package authclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds surfaced to callers. Match with errors.Is.
var (
	ErrInvalidCredentials = errors.New("authclient.invalid_credentials")
	ErrSessionExpired     = errors.New("authclient.session_expired")
	ErrUnauthorized       = errors.New("authclient.unauthorized")
	ErrForbidden          = errors.New("authclient.forbidden")
	ErrAccountLocked      = errors.New("authclient.account_locked")
	ErrBadRequest         = errors.New("authclient.bad_request")
	ErrServer             = errors.New("authclient.server_error")
	ErrNetwork            = errors.New("authclient.network_error")

	ErrInvalidBaseURL   = errors.New("authclient.invalid_base_url")
	ErrMissingStore     = errors.New("authclient.missing_store")
	ErrUnknownPortal    = errors.New("authclient.unknown_portal")
	errMissingAccessKey = errors.New("login response carried no access token")
)

// APIError describes a failed call. Kind is one of the Err* sentinels.
type APIError struct {
	Kind       error
	StatusCode int
	Method     string
	Path       string
	Detail     string
	Cause      error
}

func (apiError *APIError) Error() string {
	var builder strings.Builder
	builder.WriteString(apiError.Kind.Error())
	if apiError.Method != "" || apiError.Path != "" {
		builder.WriteString(fmt.Sprintf(" %s %s", apiError.Method, apiError.Path))
	}
	if apiError.StatusCode != 0 {
		builder.WriteString(fmt.Sprintf(" (status %d)", apiError.StatusCode))
	}
	if apiError.Detail != "" {
		builder.WriteString(": ")
		builder.WriteString(apiError.Detail)
	}
	if apiError.Cause != nil {
		builder.WriteString(": ")
		builder.WriteString(apiError.Cause.Error())
	}
	return builder.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (apiError *APIError) Unwrap() []error {
	if apiError.Cause == nil {
		return []error{apiError.Kind}
	}
	return []error{apiError.Kind, apiError.Cause}
}

// classifyStatus maps a failed status to its error kind.
func classifyStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case statusCode == http.StatusForbidden:
		return ErrForbidden
	case statusCode == http.StatusTooManyRequests:
		return ErrAccountLocked
	case statusCode >= http.StatusInternalServerError:
		return ErrServer
	default:
		return ErrBadRequest
	}
}

func statusError(request *http.Request, statusCode int, body []byte) *APIError {
	apiError := &APIError{
		Kind:       classifyStatus(statusCode),
		StatusCode: statusCode,
		Detail:     extractDetail(body),
	}
	if request != nil {
		apiError.Method = request.Method
		apiError.Path = request.URL.Path
	}
	return apiError
}

func networkError(request *http.Request, cause error) *APIError {
	apiError := &APIError{Kind: ErrNetwork, Cause: cause}
	if request != nil {
		apiError.Method = request.Method
		apiError.Path = request.URL.Path
	}
	return apiError
}

func sessionExpiredError(request *http.Request, cause error) *APIError {
	var existing *APIError
	if errors.As(cause, &existing) && existing.Kind == ErrSessionExpired {
		return existing
	}
	apiError := &APIError{Kind: ErrSessionExpired, Cause: cause}
	if request != nil {
		apiError.Method = request.Method
		apiError.Path = request.URL.Path
	}
	return apiError
}

// extractDetail pulls a human-readable message from common error payloads.
func extractDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	switch detail := payload.Detail.(type) {
	case string:
		if detail != "" {
			return detail
		}
	case nil:
	default:
		encoded, err := json.Marshal(detail)
		if err == nil {
			return string(encoded)
		}
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
