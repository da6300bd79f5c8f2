package authclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
	drainLimitBytes     = 64 << 10
)

var errRetryRejected = errors.New("authclient.retry_rejected")

// Transport attaches the session credential to outgoing requests and runs
// the refresh protocol when the server answers 401.
type Transport struct {
	base           http.RoundTripper
	session        *Session
	credentialFree map[string]struct{}
	jar            http.CookieJar
	logger         *zap.Logger
}

// RoundTrip implements http.RoundTripper.
func (transport *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	prepared, err := prepareRequest(request)
	if err != nil {
		return nil, err
	}
	if _, free := transport.credentialFree[prepared.URL.Path]; free {
		return transport.base.RoundTrip(prepared)
	}

	// A header set by the caller is sent as is on the first attempt.
	var token string
	if prepared.Header.Get(headerAuthorization) == "" {
		token, err = transport.session.EnsureFreshAccessToken(prepared.Context())
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				return nil, sessionExpiredError(prepared, err)
			}
			return nil, err
		}
	}

	response, err := transport.send(prepared, token)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusUnauthorized {
		return response, nil
	}
	drainAndClose(response)
	return transport.recoverUnauthorized(prepared, token)
}

func (transport *Transport) recoverUnauthorized(prepared *http.Request, sentToken string) (*http.Response, error) {
	ctx := prepared.Context()
	requestID := prepared.Header.Get(headerRequestID)

	if rotated, ok := transport.session.rotatedAccessToken(ctx, sentToken); ok {
		return transport.retry(prepared, rotated)
	}

	coordinator := transport.session.coordinator
	ticket, err := coordinator.join(requestID)
	if err != nil {
		return nil, sessionExpiredError(prepared, err)
	}

	if ticket.leader {
		outcome, waiters := coordinator.lead(ctx, requestID)
		if outcome.err != nil {
			return nil, sessionExpiredError(prepared, outcome.err)
		}
		response, retryErr := transport.retry(prepared, outcome.credential.AccessToken)
		go coordinator.releaseInOrder(waiters, outcome)
		return response, retryErr
	}

	transport.logger.Debug("request queued behind credential refresh",
		zap.String("request_id", requestID),
		zap.String("path", prepared.URL.Path))
	outcome, waitErr := ticket.wait(ctx)
	if waitErr != nil {
		return nil, waitErr
	}
	defer ticket.release()
	if outcome.err != nil {
		return nil, sessionExpiredError(prepared, outcome.err)
	}
	return transport.retry(prepared, outcome.credential.AccessToken)
}

// retry re-issues the request once. A second 401 ends the session.
func (transport *Transport) retry(prepared *http.Request, token string) (*http.Response, error) {
	transport.session.metrics.Increment(metricAuthRequestRetried)
	response, err := transport.send(prepared, token)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusUnauthorized {
		return response, nil
	}
	drainAndClose(response)
	transport.logger.Warn("retried request rejected",
		zap.String("code", errRetryRejected.Error()),
		zap.String("request_id", prepared.Header.Get(headerRequestID)),
		zap.String("path", prepared.URL.Path))
	transport.session.coordinator.markExpired()
	transport.session.forceTeardown(context.WithoutCancel(prepared.Context()), errRetryRejected)
	return nil, sessionExpiredError(prepared, errRetryRejected)
}

func (transport *Transport) send(prepared *http.Request, token string) (*http.Response, error) {
	attempt := prepared.Clone(prepared.Context())
	if prepared.GetBody != nil {
		body, err := prepared.GetBody()
		if err != nil {
			return nil, fmt.Errorf("authclient.transport.body: %w", err)
		}
		attempt.Body = body
	}
	if token != "" {
		attempt.Header.Set(headerAuthorization, "Bearer "+token)
	}
	if transport.jar != nil {
		// The client copied the jar before the first attempt; a refresh may
		// have replaced the cookies since.
		attempt.Header.Del("Cookie")
		for _, cookie := range transport.jar.Cookies(attempt.URL) {
			attempt.AddCookie(cookie)
		}
	}
	return transport.base.RoundTrip(attempt)
}

// prepareRequest clones the request, assigns a request id and buffers the
// body so the request can be replayed after a refresh.
func prepareRequest(request *http.Request) (*http.Request, error) {
	prepared := request.Clone(request.Context())
	if prepared.Header.Get(headerRequestID) == "" {
		prepared.Header.Set(headerRequestID, uuid.NewString())
	}
	if request.Body == nil || request.Body == http.NoBody {
		return prepared, nil
	}
	payload, err := io.ReadAll(request.Body)
	closeErr := request.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("authclient.transport.body: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("authclient.transport.body: %w", closeErr)
	}
	prepared.Body = io.NopCloser(bytes.NewReader(payload))
	prepared.ContentLength = int64(len(payload))
	prepared.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	return prepared, nil
}

func drainAndClose(response *http.Response) {
	if response == nil || response.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, drainLimitBytes))
	_ = response.Body.Close()
}
