package authsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// HeaderRequestID carries a per-request id so client and server logs line up.
const HeaderRequestID = "X-Request-Id"

// Request describes one call made through Client.Execute.
type Request struct {
	Method string
	Path   string // relative to the client base URL, e.g. "/medications"
	Query  url.Values
	Header http.Header

	// Body is encoded as JSON when non-nil. A []byte or io.Reader is sent as is.
	Body any

	// Anonymous requests do not need a stored token (login, registration,
	// password reset). A 401 on them is a plain ServerError and never
	// triggers a refresh.
	Anonymous bool
}

type ctxKey int

const (
	anonymousKey ctxKey = iota
	refreshCallKey
)

func withAnonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey, true)
}

func isAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey).(bool)
	return v
}

// withRefreshCall marks the refresh request itself. The transport passes
// such requests straight through so a 401 on them can never start another
// refresh.
func withRefreshCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshCallKey, true)
}

func isRefreshCall(ctx context.Context) bool {
	v, _ := ctx.Value(refreshCallKey).(bool)
	return v
}

// build turns the descriptor into an *http.Request against baseURL. The body
// is always replayable so the transport can retry after a refresh.
func (r Request) build(ctx context.Context, baseURL string) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target := baseURL + "/" + strings.TrimPrefix(r.Path, "/")
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	body, contentType, err := encodeBody(r.Body)
	if err != nil {
		return nil, err
	}

	if r.Anonymous {
		ctx = withAnonymous(ctx)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}
	return req, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "application/octet-stream", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read request body: %w", err)
		}
		return data, "application/octet-stream", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request: %w", err)
		}
		return data, "application/json", nil
	}
}
