package authsession

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// maxDrain bounds how much of a discarded 401 body is read so the
// connection can be reused.
const maxDrain = 64 << 10

// refreshTransport is an http.RoundTripper that attaches the session bearer
// token and hands 401 responses to the Coordinator. A request is retried at
// most once per logical call.
//
// Only requests to origin carry the token. Redirect hops to any other scheme
// or host are sent as they are.
type refreshTransport struct {
	vault       *vault
	coordinator *Coordinator
	base        http.RoundTripper
	origin      *url.URL
	logger      *slog.Logger
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if isRefreshCall(ctx) {
		return t.base.RoundTrip(req)
	}
	if !t.sameOrigin(req.URL) {
		t.logger.Debug("sending request to foreign host without credentials", "host", req.URL.Host)
		return t.base.RoundTrip(req)
	}

	anonymous := isAnonymous(ctx)
	cred := t.vault.load()
	if !anonymous && !cred.HasAccessToken() {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, ErrNoCredentials
	}

	resp, err := t.send(req, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	if anonymous || resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	if err := t.coordinator.Refresh(ctx, cred.AccessToken); err != nil {
		return nil, err
	}

	retry, err := rewind(req)
	if err != nil {
		return nil, err
	}

	// A logout may have landed between the refresh and now.
	cred = t.vault.load()
	if !cred.HasAccessToken() {
		return nil, ErrNoCredentials
	}

	resp, err = t.send(retry, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		t.logger.Warn("request still unauthorized after token refresh",
			"method", req.Method, "path", req.URL.Path, "request_id", req.Header.Get(HeaderRequestID))
		return nil, fmt.Errorf("%w: rejected after refresh", ErrAuthenticationFailed)
	}
	return resp, nil
}

// send clones req so the caller's request is never mutated, then adds the
// bearer header when a token is available.
func (t *refreshTransport) send(req *http.Request, token string) (*http.Response, error) {
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return t.base.RoundTrip(req)
}

func (t *refreshTransport) sameOrigin(u *url.URL) bool {
	if t.origin == nil || u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, t.origin.Scheme) &&
		strings.EqualFold(u.Hostname(), t.origin.Hostname()) &&
		effectivePort(u) == effectivePort(t.origin)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed after token refresh")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to replay request body: %w", err)
	}
	retry.Body = body
	return retry, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()
}
