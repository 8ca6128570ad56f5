// Package fs provides a file-backed SecureStore for hosts without an OS
// keyring (headless Linux, CI, containers).
//
// All secrets live in one file, sealed with XChaCha20-Poly1305 under a key
// the caller supplies. The file is written with owner-only permissions via a
// temp file and rename, so a reader sees either the old or the new contents.
package fs

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	as "github.com/heartpath/authsession"
)

// KeySize is the length of the sealing key
const KeySize = chacha20poly1305.KeySize

// Store keeps session secrets in a sealed file
type Store struct {
	mu      sync.RWMutex
	path    string
	key     []byte
	secrets map[as.CredentialKind]string
	logger  *slog.Logger
}

// secretsFile is the JSON document that gets sealed
type secretsFile struct {
	Secrets map[as.CredentialKind]string `json:"secrets"`
}

// GenerateKey returns a random sealing key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// NewStore opens the store at path, creating nothing until the first write.
// If path is empty, defaults to <user config dir>/<appName>/session.sealed
func NewStore(path, appName string, key []byte, logger *slog.Logger) (*Store, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", KeySize, len(key))
	}
	if logger == nil {
		logger = slog.Default()
	}

	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "heartpath"
		}
		path = filepath.Join(configDir, appName, "session.sealed")
	}

	s := &Store{
		path:    path,
		key:     append([]byte(nil), key...),
		secrets: make(map[as.CredentialKind]string),
		logger:  logger.With("component", "fs-store"),
	}

	if err := s.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			// A file we cannot open is treated as empty; the next write
			// replaces it.
			s.logger.Warn("discarding unreadable secrets file", "path", path, "err", err)
		}
	}
	return s, nil
}

// Path returns the path to the sealed file
func (s *Store) Path() string {
	return s.path
}

// Save replaces the secret for kind and flushes the file.
func (s *Store) Save(kind as.CredentialKind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.secrets[kind]
	delete(s.secrets, kind)
	s.secrets[kind] = value

	if err := s.flush(); err != nil {
		if had {
			s.secrets[kind] = prev
		} else {
			delete(s.secrets, kind)
		}
		return &as.StorageError{Op: "save", Kind: kind, Err: err}
	}
	return nil
}

// Get returns the secret for kind
func (s *Store) Get(kind as.CredentialKind) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[kind]
	return v, ok
}

// Delete removes the secret for kind. A missing secret is not an error.
func (s *Store) Delete(kind as.CredentialKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.secrets[kind]
	if !had {
		return nil
	}
	delete(s.secrets, kind)

	if err := s.flush(); err != nil {
		s.secrets[kind] = prev
		return &as.StorageError{Op: "delete", Kind: kind, Err: err}
	}
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	plain, err := open(s.key, data)
	if err != nil {
		return err
	}

	var file secretsFile
	if err := json.Unmarshal(plain, &file); err != nil {
		return fmt.Errorf("failed to parse secrets file: %w", err)
	}
	if file.Secrets != nil {
		s.secrets = file.Secrets
	}
	return nil
}

// flush seals and writes the current secrets. Caller must hold s.mu.
func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	plain, err := json.Marshal(secretsFile{Secrets: s.secrets})
	if err != nil {
		return fmt.Errorf("failed to serialize secrets: %w", err)
	}

	sealed, err := seal(s.key, plain)
	if err != nil {
		return err
	}
	return writeAtomicFile(s.path, sealed)
}

// seal returns nonce || ciphertext.
func seal(key, plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("secrets file is truncated")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("secrets file failed authentication")
	}
	return plain, nil
}

// writeAtomicFile writes data to a temp file in the same directory, syncs
// it and renames it over path.
func writeAtomicFile(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to restrict temp file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
