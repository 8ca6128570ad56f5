// Package fakeapi is an in-process stand-in for the HeartPath API. It issues
// HS256 access tokens and rotating refresh tokens, and exposes hooks that
// let tests expire tokens, revoke refresh tokens, hold a refresh call in
// flight and count what reached the wire.
package fakeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// Route templates, also the keys accepted by Hits.
const (
	PathLogin          = "/users/login"
	PathRegister       = "/users/register"
	PathRefresh        = "/users/refresh-token"
	PathForgotPassword = "/users/forgot-password"
	PathChangePassword = "/users/change-password"
	PathProfile        = "/users/profile"
	PathMedications    = "/medications"
	PathMedication     = "/medications/{id}"
	PathSymptoms       = "/symptoms"
)

const accessTokenExpiry = 15 * time.Minute

type user struct {
	ID           string
	Email        string
	PasswordHash []byte
	Profile      map[string]any
	Medications  []map[string]any
	Symptoms     []map[string]any
}

type accessClaims struct {
	Generation int `json:"gen"`
	jwt.RegisteredClaims
}

type userIDKey struct{}

// API is the fake backend. The zero value is not usable; call New.
type API struct {
	secret []byte

	mu         sync.Mutex
	users      map[string]*user  // by email
	byID       map[string]*user  // by id
	refresh    map[string]string // refresh token -> user id
	generation int
	rejectAll  bool
	gate       chan struct{}

	refreshCalls atomic.Int64
	hitsMu       sync.Mutex
	hits         map[string]int64
}

// New creates an empty API
func New() *API {
	return &API{
		secret:  []byte(uuid.NewString()),
		users:   make(map[string]*user),
		byID:    make(map[string]*user),
		refresh: make(map[string]string),
		hits:    make(map[string]int64),
	}
}

// Handler returns the HTTP handler serving every route
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(a.countHits)

	r.HandleFunc(PathLogin, a.handleLogin).Methods(http.MethodPost)
	r.HandleFunc(PathRegister, a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc(PathRefresh, a.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc(PathForgotPassword, a.handleForgotPassword).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(a.requireAccessToken)
	protected.HandleFunc(PathChangePassword, a.handleChangePassword).Methods(http.MethodPost)
	protected.HandleFunc(PathProfile, a.handleGetProfile).Methods(http.MethodGet)
	protected.HandleFunc(PathProfile, a.handleUpdateProfile).Methods(http.MethodPut)
	protected.HandleFunc(PathMedications, a.handleListMedications).Methods(http.MethodGet)
	protected.HandleFunc(PathMedications, a.handleAddMedication).Methods(http.MethodPost)
	protected.HandleFunc(PathMedication, a.handleDeleteMedication).Methods(http.MethodDelete)
	protected.HandleFunc(PathSymptoms, a.handleListSymptoms).Methods(http.MethodGet)
	protected.HandleFunc(PathSymptoms, a.handleLogSymptom).Methods(http.MethodPost)

	return r
}

// AddUser creates an account and returns its id
func (a *API) AddUser(email, password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("fakeapi: hashing password: %v", err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	u := &user{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Profile:      map[string]any{"email": email},
	}
	u.Profile["id"] = u.ID
	a.users[email] = u
	a.byID[u.ID] = u
	return u.ID
}

// Issue mints a token pair for userID as a login would
func (a *API) Issue(userID string) (accessToken, refreshToken string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issueLocked(userID)
}

// ExpireAccessTokens invalidates every access token issued so far
func (a *API) ExpireAccessTokens() {
	a.mu.Lock()
	a.generation++
	a.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh token issued so far
func (a *API) RevokeRefreshTokens() {
	a.mu.Lock()
	a.refresh = make(map[string]string)
	a.mu.Unlock()
}

// RejectAccessTokens makes protected routes answer 401 to any token,
// including ones issued afterwards.
func (a *API) RejectAccessTokens(reject bool) {
	a.mu.Lock()
	a.rejectAll = reject
	a.mu.Unlock()
}

// HoldRefresh makes refresh calls block after they are counted until the
// returned release func is called (or the client goes away).
func (a *API) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	a.mu.Lock()
	a.gate = gate
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			if a.gate == gate {
				a.gate = nil
			}
			a.mu.Unlock()
			close(gate)
		})
	}
}

// RefreshCalls reports how many refresh calls reached the server
func (a *API) RefreshCalls() int64 {
	return a.refreshCalls.Load()
}

// Hits reports how many requests reached the route template path
func (a *API) Hits(path string) int64 {
	a.hitsMu.Lock()
	defer a.hitsMu.Unlock()
	return a.hits[path]
}

// HasRefreshToken reports whether token is currently accepted for refresh
func (a *API) HasRefreshToken(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.refresh[token]
	return ok
}

func (a *API) issueLocked(userID string) (string, string) {
	now := time.Now()
	claims := accessClaims{
		Generation: a.generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenExpiry)),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		panic(fmt.Sprintf("fakeapi: signing token: %v", err))
	}
	refresh := uuid.NewString()
	a.refresh[refresh] = userID
	return access, refresh
}

func (a *API) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		a.hitsMu.Lock()
		a.hits[path]++
		a.hitsMu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.validateAccessToken(bearer(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	})
}

func (a *API) validateAccessToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("missing bearer token")
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.New("invalid token")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rejectAll || claims.Generation != a.generation {
		return "", errors.New("token expired")
	}
	if _, ok := a.byID[claims.Subject]; !ok {
		return "", errors.New("unknown user")
	}
	return claims.Subject, nil
}

func (a *API) currentUser(r *http.Request) *user {
	userID, _ := r.Context().Value(userIDKey{}).(string)
	return a.byID[userID]
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
