package authsession

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Session wires the secure store, State, Coordinator and Client together.
// Each component receives the collaborators it needs; nothing reaches for a
// global.
type Session struct {
	vault       *vault
	state       *State
	coordinator *Coordinator
	client      *Client
	logger      *slog.Logger

	loginPath    string
	registerPath string
}

type options struct {
	httpClient     *http.Client
	baseTransport  http.RoundTripper
	refreshPath    string
	refreshTimeout time.Duration
	loginPath      string
	registerPath   string
	prefs          Preferences
	logger         *slog.Logger
}

// Option configures a Session
type Option func(*options)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
		if client != nil && client.Transport != nil {
			o.baseTransport = client.Transport
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.baseTransport = transport
	}
}

// WithRefreshPath sets a custom refresh endpoint path
func WithRefreshPath(path string) Option {
	return func(o *options) {
		o.refreshPath = path
	}
}

// WithRefreshTimeout bounds the refresh call. Expiry counts as a failed refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}

// WithAuthPaths overrides the login and registration endpoint paths
func WithAuthPaths(loginPath, registerPath string) Option {
	return func(o *options) {
		if loginPath != "" {
			o.loginPath = loginPath
		}
		if registerPath != "" {
			o.registerPath = registerPath
		}
	}
}

// WithPreferences persists the session Status for fast cold starts
func WithPreferences(prefs Preferences) Option {
	return func(o *options) {
		o.prefs = prefs
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a Session for the API at baseURL backed by store. The session
// status is reconciled with the store before New returns.
func New(baseURL string, store SecureStore, opts ...Option) *Session {
	o := &options{
		baseTransport:  http.DefaultTransport,
		refreshPath:    DefaultRefreshPath,
		refreshTimeout: DefaultRefreshTimeout,
		loginPath:      DefaultLoginPath,
		registerPath:   DefaultRegisterPath,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("component", "authsession")
	baseURL = normalizeBaseURL(baseURL)

	v := newVault(store)
	state := NewState(o.prefs, logger)

	coordinator := &Coordinator{
		vault:   v,
		state:   state,
		client:  &http.Client{Transport: o.baseTransport},
		url:     baseURL + o.refreshPath,
		timeout: o.refreshTimeout,
		logger:  logger,
	}

	httpClient := &http.Client{}
	if o.httpClient != nil {
		// Copy timeout and other settings
		httpClient.Timeout = o.httpClient.Timeout
		httpClient.CheckRedirect = o.httpClient.CheckRedirect
		httpClient.Jar = o.httpClient.Jar
	}
	origin, err := url.Parse(baseURL)
	if err != nil {
		logger.Error("invalid base URL, requests will carry no credentials", "err", err)
		origin = nil
	}
	httpClient.Transport = &refreshTransport{
		vault:       v,
		coordinator: coordinator,
		base:        o.baseTransport,
		origin:      origin,
		logger:      logger,
	}

	s := &Session{
		vault:        v,
		state:        state,
		coordinator:  coordinator,
		client:       &Client{baseURL: baseURL, httpClient: httpClient},
		logger:       logger,
		loginPath:    o.loginPath,
		registerPath: o.registerPath,
	}
	s.Restore()
	return s
}

// State returns the observable session status
func (s *Session) State() *State {
	return s.state
}

// Client returns the request executor
func (s *Session) Client() *Client {
	return s.client
}

// Coordinator returns the refresh coordinator
func (s *Session) Coordinator() *Coordinator {
	return s.coordinator
}

// Execute is shorthand for s.Client().Execute.
func (s *Session) Execute(ctx context.Context, r Request, out any) error {
	return s.client.Execute(ctx, r, out)
}

// Refresh asks the Coordinator for a fresh access token after a call sent
// with staleToken was rejected. Transports other than HTTP (gRPC) use it.
func (s *Session) Refresh(ctx context.Context, staleToken string) error {
	return s.coordinator.Refresh(ctx, staleToken)
}

// Restore reconciles State with the secure store, which wins over any
// persisted preference.
func (s *Session) Restore() Status {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	cred := LoadCredential(s.vault.store)
	s.logger.Debug("restoring session", "credential", cred)
	if cred.HasAccessToken() {
		s.state.Login(cred.UserID)
	} else {
		s.state.Logout()
	}
	return s.state.Status()
}
