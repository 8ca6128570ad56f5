package authsession

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoCredentials is returned when a request needs authentication and no
	// access token is stored. No network call is made.
	ErrNoCredentials = errors.New("no credentials")

	// ErrAuthenticationFailed is returned when a token refresh failed (or
	// there was no refresh token to use), or when a request was still
	// rejected after a successful refresh.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// ServerError is a non-2xx response other than a 401 handled by the
// refresh path.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, http.StatusText(e.Status))
}

// DecodingError reports a response body that does not match the expected
// schema.
type DecodingError struct {
	Field  string // dotted path of the offending field, if known
	Type   string // what was found vs. what was expected, if known
	Offset int64  // byte offset in the body, if known
	Err    error
}

func (e *DecodingError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("decoding response: field %q (%s): %v", e.Field, e.Type, e.Err)
	case e.Offset > 0:
		return fmt.Sprintf("decoding response at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("decoding response: %v", e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// NetworkError is a transport level failure (no connectivity, timeout).
// This layer never retries it.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// StorageError is a credential persistence failure. For the request in
// flight it counts as ErrNoCredentials; other stored secrets are left alone.
type StorageError struct {
	Op   string
	Kind CredentialKind
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("credential storage: %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNoCredentials) hold for storage failures.
func (e *StorageError) Is(target error) bool {
	return target == ErrNoCredentials
}

// IsLoginRequired reports whether err means the user has to sign in again.
func IsLoginRequired(err error) bool {
	return errors.Is(err, ErrNoCredentials) || errors.Is(err, ErrAuthenticationFailed)
}
