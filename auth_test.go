package authsession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_StoresTripleAndNotifies(t *testing.T) {
	env := newLoggedOutEnv(t)
	userID := env.api.AddUser("anna@example.com", "s3cret-pass")

	var statuses []Status
	env.session.State().Subscribe(func(s Status) { statuses = append(statuses, s) })

	err := env.session.Login(context.Background(), "anna@example.com", "s3cret-pass")
	require.NoError(t, err)

	cred := env.store.credential()
	assert.True(t, cred.HasAccessToken())
	assert.True(t, cred.HasRefreshToken())
	assert.Equal(t, userID, cred.UserID)
	assert.Equal(t, []Status{{Authenticated: true, UserID: userID}}, statuses)

	p, err := getProfile(context.Background(), env.session)
	require.NoError(t, err)
	assert.Equal(t, "anna@example.com", p.Email)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newLoggedOutEnv(t)
	env.api.AddUser("anna@example.com", "s3cret-pass")

	err := env.session.Login(context.Background(), "anna@example.com", "guess")

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Status)
	assert.False(t, IsLoginRequired(err))
	assert.True(t, env.store.credential().IsEmpty())
	assert.False(t, env.session.State().IsAuthenticated())
	assert.Equal(t, int64(0), env.api.RefreshCalls())
}

func TestLogin_ReplacesPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	otherID := env.api.AddUser("ben@example.com", "another-pass")

	require.NoError(t, env.session.Login(context.Background(), "ben@example.com", "another-pass"))

	cred := env.store.credential()
	assert.Equal(t, otherID, cred.UserID)
	assert.NotEqual(t, env.access, cred.AccessToken)
	assert.Equal(t, otherID, env.session.State().CurrentUserID())
}

func TestLogin_PartialStorageFailureKeepsPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	env.api.AddUser("anna@example.com", "s3cret-pass")
	env.store.failSavesOf(KindRefreshToken, errDiskFull)

	err := env.session.Login(context.Background(), "anna@example.com", "s3cret-pass")

	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, Credential{AccessToken: env.access, RefreshToken: env.refresh, UserID: env.userID}, env.store.credential())
	assert.Equal(t, Status{Authenticated: true, UserID: env.userID}, env.session.State().Status())
}

func TestRegister_UserIDFromTokenClaims(t *testing.T) {
	env := newLoggedOutEnv(t)

	err := env.session.Register(context.Background(), RegisterRequest{
		Email:       "cara@example.com",
		Password:    "long-enough",
		FirstName:   "Cara",
		LastName:    "Diaz",
		SurgeryDate: "2026-03-14",
	})
	require.NoError(t, err)

	p, err := getProfile(context.Background(), env.session)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, p.ID, env.session.State().CurrentUserID())
	assert.Equal(t, p.ID, env.store.credential().UserID)
}

func TestRegister_Conflict(t *testing.T) {
	env := newLoggedOutEnv(t)
	env.api.AddUser("cara@example.com", "long-enough")

	err := env.session.Register(context.Background(), RegisterRequest{Email: "cara@example.com", Password: "long-enough"})

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusConflict, serr.Status)
	assert.False(t, env.session.State().IsAuthenticated())
}

func TestLogin_IncompleteTokenPair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "only-access"})
	}))
	defer server.Close()

	store := newMemoryStore()
	s := New(server.URL, store, WithLogger(discardLogger()))

	err := s.Login(context.Background(), "a@example.com", "pw")

	var derr *DecodingError
	require.ErrorAs(t, err, &derr)
	assert.True(t, store.credential().IsEmpty())
	assert.False(t, s.State().IsAuthenticated())
}

func TestLogin_CustomPaths(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(TokenPair{Token: "a", RefreshToken: "r", UserID: "u"})
	}))
	defer server.Close()

	s := New(server.URL+"/api/v1", newMemoryStore(), WithLogger(discardLogger()), WithAuthPaths("/auth/login", ""))

	require.NoError(t, s.Login(context.Background(), "a@example.com", "pw"))
	assert.Equal(t, "/api/v1/auth/login", gotPath)
	assert.Equal(t, "u", s.State().CurrentUserID())
}

func TestLogout_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	calls := 0
	env.session.State().Subscribe(func(Status) { calls++ })

	require.NoError(t, env.session.Logout())
	require.NoError(t, env.session.Logout())

	assert.Equal(t, 1, calls)
	assert.True(t, env.store.credential().IsEmpty())
	assert.False(t, env.session.State().IsAuthenticated())
}

func TestLogout_StorageFailureStillLogsOut(t *testing.T) {
	env := newTestEnv(t)
	env.store.failDeletes(errDiskFull)

	err := env.session.Logout()

	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "delete", serr.Op)
	assert.False(t, env.session.State().IsAuthenticated())
}

func TestRestore_StoreWinsOverPreferences(t *testing.T) {
	prefs := &fakePreferences{status: Status{Authenticated: true, UserID: "stale"}}
	store := newMemoryStore()

	s := New("http://127.0.0.1:0", store, WithLogger(discardLogger()), WithPreferences(prefs))

	assert.False(t, s.State().IsAuthenticated())
	assert.Equal(t, Status{}, prefs.status)

	store.seed(Credential{AccessToken: "a", RefreshToken: "r", UserID: "u-7"})
	status := s.Restore()

	assert.Equal(t, Status{Authenticated: true, UserID: "u-7"}, status)
	assert.Equal(t, status, prefs.status)
}

func TestTokenSource(t *testing.T) {
	env := newTestEnv(t)

	tok, err := env.session.TokenSource().Token()
	require.NoError(t, err)
	assert.Equal(t, env.access, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Empty(t, tok.RefreshToken)
	assert.False(t, tok.Expiry.IsZero())

	expiry, ok := env.session.AccessTokenExpiry()
	require.True(t, ok)
	assert.Equal(t, tok.Expiry, expiry)

	require.NoError(t, env.session.Logout())
	_, err = env.session.TokenSource().Token()
	assert.ErrorIs(t, err, ErrNoCredentials)
	_, ok = env.session.AccessTokenExpiry()
	assert.False(t, ok)
}

func TestParseAccessClaims_OpaqueToken(t *testing.T) {
	_, err := ParseAccessClaims("not-a-jwt")
	assert.Error(t, err)
	assert.Equal(t, "", userIDFromToken("not-a-jwt"))
}
