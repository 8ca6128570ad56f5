package fakeapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

type credentialsBody struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.users[body.Email]
	if !ok || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(body.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	access, refresh := a.issueLocked(u.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"token":        access,
		"refreshToken": refresh,
		"userId":       u.ID,
	})
}

// handleRegister answers without a userId so clients have to read it from
// the token claims.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	a.mu.Lock()
	_, exists := a.users[body.Email]
	a.mu.Unlock()
	if exists {
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	}

	userID := a.AddUser(body.Email, body.Password)

	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.byID[userID]
	u.Profile["firstName"] = body.FirstName
	u.Profile["lastName"] = body.LastName

	access, refresh := a.issueLocked(userID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"token":        access,
		"refreshToken": refresh,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a.refreshCalls.Add(1)

	a.mu.Lock()
	gate := a.gate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	token := bearer(r)

	a.mu.Lock()
	defer a.mu.Unlock()

	userID, ok := a.refresh[token]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	delete(a.refresh, token)

	access, refresh := a.issueLocked(userID)
	writeJSON(w, http.StatusOK, map[string]string{
		"token":        access,
		"refreshToken": refresh,
	})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	// Same answer whether or not the account exists.
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update password")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.currentUser(r)
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(body.CurrentPassword)) != nil {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}
	u.PasswordHash = hash
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	writeJSON(w, http.StatusOK, a.currentUser(r).Profile)
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.currentUser(r)
	for k, v := range body {
		if k == "id" || k == "email" {
			continue
		}
		u.Profile[k] = v
	}
	writeJSON(w, http.StatusOK, u.Profile)
}

func (a *API) handleListMedications(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(a.currentUser(r).Medications))
}

func (a *API) handleAddMedication(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if name, _ := body["name"].(string); name == "" {
		writeError(w, http.StatusUnprocessableEntity, "medication name is required")
		return
	}
	body["id"] = uuid.NewString()

	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.currentUser(r)
	u.Medications = append(u.Medications, body)
	writeJSON(w, http.StatusCreated, body)
}

func (a *API) handleDeleteMedication(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.currentUser(r)
	for i, m := range u.Medications {
		if m["id"] == id {
			u.Medications = append(u.Medications[:i], u.Medications[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "medication not found")
}

func (a *API) handleListSymptoms(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(a.currentUser(r).Symptoms))
}

func (a *API) handleLogSymptom(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body["id"] = uuid.NewString()

	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.currentUser(r)
	u.Symptoms = append(u.Symptoms, body)
	writeJSON(w, http.StatusCreated, body)
}

func nonNil(items []map[string]any) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	return items
}
