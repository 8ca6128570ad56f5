// Package grpc carries the session's bearer token on outgoing gRPC calls and
// routes Unauthenticated responses through the same refresh coordinator the
// HTTP client uses.
package grpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/oauth"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Default metadata keys.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyRequestID carries a per-call id for log correlation
	DefaultMetadataKeyRequestID = "x-request-id"
)

// Authenticator is the part of a session the interceptor needs.
// *authsession.Session implements it.
type Authenticator interface {
	TokenSource() oauth2.TokenSource
	Refresh(ctx context.Context, staleToken string) error
}

// Config configures the client interceptor.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeyRequestID defaults to "x-request-id".
	MetadataKeyRequestID string

	// PublicMethods are full method names ("/pkg.Service/Method") sent
	// without a token and never refreshed.
	PublicMethods map[string]bool
}

// DefaultConfig returns a config that authenticates every method.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyRequestID:     DefaultMetadataKeyRequestID,
		PublicMethods:            make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *Config {
	config := DefaultConfig()
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyRequestID == "" {
		c.MetadataKeyRequestID = DefaultMetadataKeyRequestID
	}
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

// UnaryClientInterceptor attaches the session token to each call. A call
// without a stored token fails locally with codes.Unauthenticated. When the
// server answers Unauthenticated the session refreshes and the call is sent
// once more; a second Unauthenticated is returned as is.
func UnaryClientInterceptor(auth Authenticator, config *Config) grpc.UnaryClientInterceptor {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, config.MetadataKeyRequestID, uuid.NewString())

		if config.PublicMethods[method] {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		tok, err := auth.TokenSource().Token()
		if err != nil {
			return status.Error(codes.Unauthenticated, err.Error())
		}

		err = invoker(withToken(ctx, config, tok.AccessToken), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}

		if rerr := auth.Refresh(ctx, tok.AccessToken); rerr != nil {
			return refreshStatus(rerr)
		}

		tok, err = auth.TokenSource().Token()
		if err != nil {
			return status.Error(codes.Unauthenticated, err.Error())
		}

		err = invoker(withToken(ctx, config, tok.AccessToken), method, req, reply, cc, opts...)
		if status.Code(err) == codes.Unauthenticated {
			return status.Error(codes.Unauthenticated, "authentication failed: rejected after refresh")
		}
		return err
	}
}

// PerRPCCredentials exposes the session token as per-RPC credentials for
// TLS channels. It does not refresh; pair it with UnaryClientInterceptor or
// use the interceptor alone.
func PerRPCCredentials(auth Authenticator) credentials.PerRPCCredentials {
	return oauth.TokenSource{TokenSource: auth.TokenSource()}
}

func withToken(ctx context.Context, config *Config, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, config.MetadataKeyAuthorization, "Bearer "+token)
}

func refreshStatus(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Unauthenticated, err.Error())
}
