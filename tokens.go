package authsession

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// AccessClaims are the access token claims this client reads. The token is
// parsed without verifying its signature; the server remains the only
// authority on whether it is valid.
type AccessClaims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// ParseAccessClaims peeks into a JWT access token. Opaque tokens return an
// error.
func ParseAccessClaims(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// userIDFromToken falls back to the token claims when a login response does
// not carry the user id.
func userIDFromToken(token string) string {
	claims, err := ParseAccessClaims(token)
	if err != nil {
		return ""
	}
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}

// AccessTokenExpiry returns the exp claim of the stored access token, if it
// has one. Refresh stays reactive to 401s; this is for diagnostics only.
func (s *Session) AccessTokenExpiry() (time.Time, bool) {
	cred := s.vault.load()
	if !cred.HasAccessToken() {
		return time.Time{}, false
	}
	claims, err := ParseAccessClaims(cred.AccessToken)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// TokenSource exposes the current access token to libraries that speak
// oauth2.TokenSource (gRPC per-RPC credentials, generated API clients).
// The refresh token is never handed out.
func (s *Session) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{vault: s.vault}
}

type sessionTokenSource struct {
	vault *vault
}

func (ts sessionTokenSource) Token() (*oauth2.Token, error) {
	cred := ts.vault.load()
	if !cred.HasAccessToken() {
		return nil, ErrNoCredentials
	}
	tok := &oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}
	if claims, err := ParseAccessClaims(cred.AccessToken); err == nil && claims.ExpiresAt != nil {
		tok.Expiry = claims.ExpiresAt.Time
	}
	return tok, nil
}
