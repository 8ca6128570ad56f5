package authsession

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/heartpath/authsession/internal/fakeapi"
)

// memoryStore is an in-memory SecureStore whose writes can be made to fail.
type memoryStore struct {
	mu        sync.Mutex
	values    map[CredentialKind]string
	saveErr   error
	deleteErr error
	kindErrs  map[CredentialKind]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[CredentialKind]string)}
}

func (m *memoryStore) Save(kind CredentialKind, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return &StorageError{Op: "save", Kind: kind, Err: m.saveErr}
	}
	if err := m.kindErrs[kind]; err != nil {
		return &StorageError{Op: "save", Kind: kind, Err: err}
	}
	delete(m.values, kind)
	m.values[kind] = value
	return nil
}

func (m *memoryStore) Get(kind CredentialKind) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[kind]
	return v, ok
}

func (m *memoryStore) Delete(kind CredentialKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.values, kind)
	return nil
}

func (m *memoryStore) failSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

// failSavesOf makes only saves of kind fail.
func (m *memoryStore) failSavesOf(kind CredentialKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kindErrs == nil {
		m.kindErrs = make(map[CredentialKind]error)
	}
	m.kindErrs[kind] = err
}

func (m *memoryStore) failDeletes(err error) {
	m.mu.Lock()
	m.deleteErr = err
	m.mu.Unlock()
}

func (m *memoryStore) seed(cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range AllKinds {
		if v := cred.value(kind); v != "" {
			m.values[kind] = v
		}
	}
}

func (m *memoryStore) credential() Credential {
	return LoadCredential(m)
}

var errDiskFull = errors.New("disk full")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv is a Session talking to a fake API with one signed-in user.
type testEnv struct {
	api     *fakeapi.API
	server  *httptest.Server
	store   *memoryStore
	session *Session
	userID  string
	access  string
	refresh string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	api := fakeapi.New()
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	userID := api.AddUser("patient@example.com", "correct-horse")
	access, refresh := api.Issue(userID)

	store := newMemoryStore()
	store.seed(Credential{AccessToken: access, RefreshToken: refresh, UserID: userID})

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return &testEnv{
		api:     api,
		server:  server,
		store:   store,
		session: New(server.URL, store, opts...),
		userID:  userID,
		access:  access,
		refresh: refresh,
	}
}

// newLoggedOutEnv is a Session against the fake API with an empty store.
func newLoggedOutEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	api := fakeapi.New()
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	store := newMemoryStore()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return &testEnv{
		api:     api,
		server:  server,
		store:   store,
		session: New(server.URL, store, opts...),
	}
}
