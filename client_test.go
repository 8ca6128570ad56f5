package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRawSession(t *testing.T, handler http.HandlerFunc, cred Credential) (*Session, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	store := newMemoryStore()
	store.seed(cred)
	return New(server.URL+"/", store, WithLogger(discardLogger())), &calls
}

func TestExecute_NoCredentialsMakesNoNetworkCall(t *testing.T) {
	s, calls := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, Credential{})

	err := s.Execute(context.Background(), Request{Method: http.MethodPost, Path: "/medications", Body: map[string]string{"name": "x"}}, nil)

	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.True(t, IsLoginRequired(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestExecute_AttachesBearerAndHeaders(t *testing.T) {
	s, _ := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get(HeaderRequestID))
		assert.Equal(t, "/api/symptoms", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("days"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "palpitations", body["kind"])

		json.NewEncoder(w).Encode(map[string]any{"id": "s1", "kind": "palpitations"})
	}, Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})

	var out struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	}
	err := s.Execute(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "api/symptoms",
		Query:  url.Values{"days": {"7"}},
		Body:   map[string]string{"kind": "palpitations"},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, "s1", out.ID)
}

func TestExecute_RedirectToOtherHostCarriesNoToken(t *testing.T) {
	var seen atomic.Value
	seen.Store("unset")
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(other.Close)

	s, calls := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL+"/export", http.StatusFound)
	}, Credential{AccessToken: "secret-access", RefreshToken: "secret-refresh"})

	err := s.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/export"}, nil)

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Status)
	assert.Equal(t, "", seen.Load())
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, s.State().Status().Authenticated)
}

func TestExecute_SameOriginRedirectKeepsToken(t *testing.T) {
	s, _ := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}, Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})

	err := s.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/old"}, nil)
	require.NoError(t, err)
}

func TestExecute_DecodingErrorNamesField(t *testing.T) {
	s, _ := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "abc", "dose": 5}`))
	}, Credential{AccessToken: "a"})

	var out struct {
		ID   int `json:"id"`
		Dose int `json:"dose"`
	}
	err := s.Execute(context.Background(), Request{Path: "/medications/1"}, &out)

	var derr *DecodingError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "id", derr.Field)
	assert.Contains(t, derr.Type, "string")
}

func TestExecute_MalformedJSON(t *testing.T) {
	s, _ := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": `))
	}, Credential{AccessToken: "a"})

	var out map[string]any
	err := s.Execute(context.Background(), Request{Path: "/x"}, &out)

	var derr *DecodingError
	assert.ErrorAs(t, err, &derr)
}

func TestExecute_ServerErrorCarriesMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message key", http.StatusUnprocessableEntity, `{"message":"dose must be positive"}`, "dose must be positive"},
		{"oauth style", http.StatusBadRequest, `{"error":"invalid_request","error_description":"missing field"}`, "missing field"},
		{"detail key", http.StatusConflict, `{"detail":"already exists"}`, "already exists"},
		{"plain text", http.StatusInternalServerError, `boom`, ""},
		{"forbidden", http.StatusForbidden, ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, Credential{AccessToken: "a"})

			err := s.Execute(context.Background(), Request{Path: "/x"}, nil)

			var serr *ServerError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.status, serr.Status)
			assert.Equal(t, tt.message, serr.Message)
			assert.False(t, IsLoginRequired(err))
		})
	}
}

func TestExecute_NoContent(t *testing.T) {
	s, _ := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}, Credential{AccessToken: "a"})

	out := map[string]any{"untouched": true}
	err := s.Execute(context.Background(), Request{Method: http.MethodDelete, Path: "/medications/9"}, &out)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"untouched": true}, out)
}

func TestExecute_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	store := newMemoryStore()
	store.seed(Credential{AccessToken: "a", RefreshToken: "r"})
	s := New(baseURL, store, WithLogger(discardLogger()))

	err := s.Execute(context.Background(), Request{Path: "/x"}, nil)

	var nerr *NetworkError
	assert.ErrorAs(t, err, &nerr)
	assert.False(t, IsLoginRequired(err))
	assert.Equal(t, "a", store.credential().AccessToken)
}

func TestExecute_ContextCanceled(t *testing.T) {
	s, calls := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {}, Credential{AccessToken: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Execute(ctx, Request{Path: "/x"}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestExecute_Anonymous401IsServerError(t *testing.T) {
	env := newLoggedOutEnv(t)

	err := env.session.Execute(context.Background(), Request{
		Method:    http.MethodPost,
		Path:      "/users/login",
		Body:      LoginRequest{Email: "nobody@example.com", Password: "nope"},
		Anonymous: true,
	}, nil)

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Status)
	assert.Equal(t, "invalid email or password", serr.Message)
	assert.Equal(t, int64(0), env.api.RefreshCalls())
}

func TestExecute_RawBody(t *testing.T) {
	s, _ := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		assert.Equal(t, "ecg-bytes", string(data))
		w.WriteHeader(http.StatusCreated)
	}, Credential{AccessToken: "a"})

	err := s.Execute(context.Background(), Request{Method: http.MethodPost, Path: "/uploads", Body: []byte("ecg-bytes")}, nil)
	require.NoError(t, err)
}

func TestExecute_UnencodableBody(t *testing.T) {
	s, calls := newRawSession(t, func(w http.ResponseWriter, r *http.Request) {}, Credential{AccessToken: "a"})

	err := s.Execute(context.Background(), Request{Method: http.MethodPost, Path: "/x", Body: make(chan int)}, nil)

	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoCredentials))
	assert.Equal(t, int32(0), calls.Load())
}
