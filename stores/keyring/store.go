// Package keyring provides a SecureStore backed by the operating system
// credential vault via github.com/99designs/keyring: Keychain on macOS,
// Secret Service, KWallet or pass on Linux, Credential Manager on Windows,
// with an encrypted-file fallback.
//
// Session secrets live under their own service name so nothing else written
// by the app (saved logins, preferences) can collide with them.
package keyring

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/99designs/keyring"

	as "github.com/heartpath/authsession"
)

// Default service names. Session secrets and saved logins are kept apart so
// a logout never touches the saved login.
const (
	DefaultServiceName      = "com.heartpath.session"
	DefaultLoginServiceName = "com.heartpath.login"
)

// Config selects and configures the keyring backend
type Config struct {
	ServiceName string

	// Backend restricts the backend, e.g. "keychain", "secret-service",
	// "file". Empty lets the library pick the best available one.
	Backend string

	// FileDir and FilePassword configure the encrypted-file backend.
	FileDir      string
	FilePassword string
}

// Open opens the keyring described by cfg
func Open(cfg Config) (keyring.Keyring, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	kc := keyring.Config{
		ServiceName:              cfg.ServiceName,
		KeychainTrustApplication: true,
		FileDir:                  cfg.FileDir,
	}
	if cfg.Backend != "" {
		kc.AllowedBackends = []keyring.BackendType{keyring.BackendType(cfg.Backend)}
	}
	if cfg.FilePassword != "" {
		kc.FilePasswordFunc = keyring.FixedStringPrompt(cfg.FilePassword)
	}

	ring, err := keyring.Open(kc)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring %q: %w", cfg.ServiceName, err)
	}
	return ring, nil
}

// Store is an authsession.SecureStore over a keyring
type Store struct {
	ring   keyring.Keyring
	logger *slog.Logger
}

// New wraps an open keyring
func New(ring keyring.Keyring, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{ring: ring, logger: logger.With("component", "keyring")}
}

// Save removes any existing item for kind and then adds the new one.
func (s *Store) Save(kind as.CredentialKind, value string) error {
	if err := s.remove(string(kind)); err != nil {
		return &as.StorageError{Op: "save", Kind: kind, Err: err}
	}

	err := s.ring.Set(keyring.Item{
		Key:   string(kind),
		Data:  []byte(value),
		Label: "HeartPath " + string(kind),
	})
	if err != nil {
		s.logger.Warn("keyring rejected write", "kind", kind, "err", err)
		return &as.StorageError{Op: "save", Kind: kind, Err: err}
	}
	return nil
}

// Get returns false when the item is absent or the keyring refused the read.
func (s *Store) Get(kind as.CredentialKind) (string, bool) {
	item, err := s.ring.Get(string(kind))
	if err != nil {
		if !isNotFound(err) {
			s.logger.Warn("keyring read failed", "kind", kind, "err", err)
		}
		return "", false
	}
	return string(item.Data), true
}

// Delete removes the item for kind. A missing item is not an error.
func (s *Store) Delete(kind as.CredentialKind) error {
	if err := s.remove(string(kind)); err != nil {
		return &as.StorageError{Op: "delete", Kind: kind, Err: err}
	}
	return nil
}

func (s *Store) remove(key string) error {
	if err := s.ring.Remove(key); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// isNotFound covers the backends that report a missing item as an os error
// (file backend) rather than ErrKeyNotFound.
func isNotFound(err error) bool {
	return errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, fs.ErrNotExist)
}
