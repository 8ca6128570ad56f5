package authsession

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

// Client is the request executor used by every domain client. Its
// *http.Client is wrapped with the bearer/refresh transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// HTTPClient returns the underlying HTTP client with auth handling
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// BaseURL returns the API base URL requests are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Execute performs r and decodes a 2xx JSON body into out. out may be nil,
// and an empty body (e.g. 204 No Content) leaves out untouched.
//
// Errors are one of ErrNoCredentials, ErrAuthenticationFailed, *StorageError,
// *ServerError, *DecodingError, *NetworkError, or the context's error.
func (c *Client) Execute(ctx context.Context, r Request, out any) error {
	req, err := r.build(ctx, c.baseURL)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NetworkError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newServerError(resp.StatusCode, body)
	}
	return decodeBody(body, out)
}

// classify strips the *url.Error added by http.Client around errors raised
// by the transport, and wraps everything else as a NetworkError.
func classify(ctx context.Context, err error) error {
	var inner error = err
	var uerr *url.Error
	if errors.As(err, &uerr) {
		inner = uerr.Err
	}

	var serr *StorageError
	switch {
	case errors.As(inner, &serr):
		return serr
	case errors.Is(inner, ErrNoCredentials), errors.Is(inner, ErrAuthenticationFailed):
		return inner
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return &NetworkError{Err: inner}
}

func decodeBody(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	err := json.Unmarshal(body, out)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		return &DecodingError{
			Field:  typeErr.Field,
			Type:   fmt.Sprintf("got %s, want %s", typeErr.Value, typeErr.Type),
			Offset: typeErr.Offset,
			Err:    err,
		}
	case errors.As(err, &syntaxErr):
		return &DecodingError{Offset: syntaxErr.Offset, Err: err}
	}
	return &DecodingError{Err: err}
}

// newServerError extracts a server supplied message when the body is a JSON
// object carrying one.
func newServerError(status int, body []byte) *ServerError {
	serr := &ServerError{Status: status}

	var payload map[string]any
	if json.Unmarshal(body, &payload) == nil {
		for _, key := range []string{"message", "error_description", "error", "detail"} {
			if msg, ok := payload[key].(string); ok && msg != "" {
				serr.Message = msg
				return serr
			}
		}
	}
	return serr
}

// normalizeBaseURL trims trailing slashes; a path prefix such as /api/v1 is
// kept.
func normalizeBaseURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/")
}
