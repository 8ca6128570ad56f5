package keyring

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const savedLoginKey = "saved_login"

// ErrNoSavedLogin is returned when no login has been saved for re-entry
var ErrNoSavedLogin = errors.New("no saved login")

// SavedLogin keeps the email and password the user chose to remember for
// biometric re-entry. It must be opened on its own service name
// (DefaultLoginServiceName) and is never cleared by a session logout.
type SavedLogin struct {
	ring keyring.Keyring
}

type savedLogin struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NewSavedLogin wraps a keyring opened for saved logins
func NewSavedLogin(ring keyring.Keyring) *SavedLogin {
	return &SavedLogin{ring: ring}
}

// Save replaces the saved login
func (s *SavedLogin) Save(email, password string) error {
	data, err := json.Marshal(savedLogin{Email: email, Password: password})
	if err != nil {
		return err
	}
	if err := s.ring.Remove(savedLoginKey); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to replace saved login: %w", err)
	}
	return s.ring.Set(keyring.Item{
		Key:   savedLoginKey,
		Data:  data,
		Label: "HeartPath saved login",
	})
}

// Load returns the saved email and password
func (s *SavedLogin) Load() (email, password string, err error) {
	item, err := s.ring.Get(savedLoginKey)
	if err != nil {
		if isNotFound(err) {
			return "", "", ErrNoSavedLogin
		}
		return "", "", err
	}
	var login savedLogin
	if err := json.Unmarshal(item.Data, &login); err != nil {
		return "", "", fmt.Errorf("saved login is corrupt: %w", err)
	}
	return login.Email, login.Password, nil
}

// Forget removes the saved login
func (s *SavedLogin) Forget() error {
	if err := s.ring.Remove(savedLoginKey); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}
