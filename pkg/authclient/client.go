package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxResponseBytes = 4 << 20

// Client issues JSON calls against the remote API through the session
// transport.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	locale     string
}

// HTTPClient returns the underlying client. Requests made with it still
// pass through the credential transport.
func (client *Client) HTTPClient() *http.Client {
	return client.httpClient
}

// URL resolves an endpoint against the base URL.
func (client *Client) URL(endpoint string) string {
	return strings.TrimRight(client.baseURL.String(), "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// Do sends payload to endpoint and decodes a successful JSON response into
// out. A url.Values payload is sent as a form, anything else as JSON.
func (client *Client) Do(ctx context.Context, method string, endpoint string, payload any, out any) error {
	request, err := client.newRequest(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		var apiError *APIError
		if errors.As(err, &apiError) {
			return apiError
		}
		return networkError(request, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return networkError(request, err)
	}
	if response.StatusCode >= http.StatusBadRequest {
		return statusError(request, response.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("authclient.decode %s %s: %w", method, request.URL.Path, err)
	}
	return nil
}

func (client *Client) newRequest(ctx context.Context, method string, endpoint string, payload any) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch typed := payload.(type) {
	case nil:
	case url.Values:
		body = strings.NewReader(typed.Encode())
		contentType = "application/x-www-form-urlencoded"
	case []byte:
		body = bytes.NewReader(typed)
		contentType = "application/json"
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("authclient.encode %s %s: %w", method, endpoint, err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	request, err := http.NewRequestWithContext(ctx, method, client.URL(endpoint), body)
	if err != nil {
		return nil, fmt.Errorf("authclient.request %s %s: %w", method, endpoint, err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Accept-Language", client.locale)
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	return request, nil
}
