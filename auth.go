package authsession

import (
	"context"
	"errors"
	"net/http"

	"github.com/heartpath/authsession/internal/redact"
)

// Default login and registration endpoints.
const (
	DefaultLoginPath    = "/users/login"
	DefaultRegisterPath = "/users/register"
)

// LoginRequest is the body of the login call
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of the registration call
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	SurgeryDate string `json:"surgeryDate,omitempty"` // YYYY-MM-DD
}

// TokenPair is what login, registration and refresh return.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId,omitempty"`
}

// Login signs in with email and password and stores the issued tokens.
func (s *Session) Login(ctx context.Context, email, password string) error {
	var pair TokenPair
	err := s.client.Execute(ctx, Request{
		Method:    http.MethodPost,
		Path:      s.loginPath,
		Body:      LoginRequest{Email: email, Password: password},
		Anonymous: true,
	}, &pair)
	if err != nil {
		s.logger.Info("login failed", "email", redact.Email(email), "err", err)
		return err
	}
	return s.establish(pair)
}

// Register creates an account and signs it in.
func (s *Session) Register(ctx context.Context, req RegisterRequest) error {
	var pair TokenPair
	err := s.client.Execute(ctx, Request{
		Method:    http.MethodPost,
		Path:      s.registerPath,
		Body:      req,
		Anonymous: true,
	}, &pair)
	if err != nil {
		s.logger.Info("registration failed", "email", redact.Email(req.Email), "err", err)
		return err
	}
	return s.establish(pair)
}

// establish replaces the stored triple with a freshly issued pair. Any
// refresh still in flight from a previous session is discarded.
func (s *Session) establish(pair TokenPair) error {
	if pair.Token == "" || pair.RefreshToken == "" {
		return &DecodingError{Field: "token", Type: "missing", Err: errors.New("token pair is incomplete")}
	}

	userID := pair.UserID
	if userID == "" {
		userID = userIDFromToken(pair.Token)
	}

	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	if err := s.vault.writeLocked(Credential{
		AccessToken:  pair.Token,
		RefreshToken: pair.RefreshToken,
		UserID:       userID,
	}); err != nil {
		s.logger.Warn("failed to store new session, previous credential kept", "err", err)
		return err
	}
	s.vault.epoch++
	s.state.Login(userID)
	s.logger.Info("session established", "user_known", userID != "")
	return nil
}

// Logout clears every stored secret and marks the session logged out. It is
// safe to call repeatedly, and wins over a refresh that completes later.
// A storage failure is returned but the session is logged out regardless.
func (s *Session) Logout() error {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	s.vault.epoch++
	err := s.vault.wipeLocked()
	if err != nil {
		s.logger.Warn("failed to clear stored credentials on logout", "err", err)
	}
	s.state.Logout()
	return err
}
