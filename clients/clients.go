// Package clients holds thin typed callers for the HeartPath API. Each one
// only shapes requests and responses; authentication, refresh and error
// classification all happen in the Executor they are given.
package clients

import (
	"context"
	"net/http"
	"net/url"

	as "github.com/heartpath/authsession"
)

// Executor runs a request and decodes its response.
// *authsession.Session and *authsession.Client implement it.
type Executor interface {
	Execute(ctx context.Context, r as.Request, out any) error
}

// Medication is a prescribed medication
type Medication struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Medications manages the signed-in patient's medication list
type Medications struct {
	exec Executor
}

// NewMedications creates a medications client
func NewMedications(exec Executor) *Medications {
	return &Medications{exec: exec}
}

// List returns all medications
func (m *Medications) List(ctx context.Context) ([]Medication, error) {
	var out []Medication
	err := m.exec.Execute(ctx, as.Request{Path: "/medications"}, &out)
	return out, err
}

// Add creates a medication and returns it with its server id
func (m *Medications) Add(ctx context.Context, med Medication) (*Medication, error) {
	var out Medication
	err := m.exec.Execute(ctx, as.Request{Method: http.MethodPost, Path: "/medications", Body: med}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a medication
func (m *Medications) Delete(ctx context.Context, id string) error {
	return m.exec.Execute(ctx, as.Request{
		Method: http.MethodDelete,
		Path:   "/medications/" + url.PathEscape(id),
	}, nil)
}

// Symptom is one logged symptom entry
type Symptom struct {
	ID         string `json:"id,omitempty"`
	Kind       string `json:"kind"`
	Severity   int    `json:"severity"`
	Notes      string `json:"notes,omitempty"`
	RecordedAt string `json:"recordedAt,omitempty"` // RFC 3339
}

// Symptoms logs and lists symptoms
type Symptoms struct {
	exec Executor
}

// NewSymptoms creates a symptoms client
func NewSymptoms(exec Executor) *Symptoms {
	return &Symptoms{exec: exec}
}

// List returns logged symptoms
func (s *Symptoms) List(ctx context.Context) ([]Symptom, error) {
	var out []Symptom
	err := s.exec.Execute(ctx, as.Request{Path: "/symptoms"}, &out)
	return out, err
}

// Log records a symptom
func (s *Symptoms) Log(ctx context.Context, symptom Symptom) (*Symptom, error) {
	var out Symptom
	err := s.exec.Execute(ctx, as.Request{Method: http.MethodPost, Path: "/symptoms", Body: symptom}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UserProfile is the patient profile
type UserProfile struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	SurgeryDate string `json:"surgeryDate,omitempty"`
}

// Profile reads and updates the patient profile
type Profile struct {
	exec Executor
}

// NewProfile creates a profile client
func NewProfile(exec Executor) *Profile {
	return &Profile{exec: exec}
}

// Get returns the signed-in user's profile
func (p *Profile) Get(ctx context.Context) (*UserProfile, error) {
	var out UserProfile
	if err := p.exec.Execute(ctx, as.Request{Path: "/users/profile"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces the editable profile fields
func (p *Profile) Update(ctx context.Context, profile UserProfile) (*UserProfile, error) {
	var out UserProfile
	err := p.exec.Execute(ctx, as.Request{Method: http.MethodPut, Path: "/users/profile", Body: profile}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Password handles password reset and change
type Password struct {
	exec Executor
}

// NewPassword creates a password client
func NewPassword(exec Executor) *Password {
	return &Password{exec: exec}
}

// RequestReset asks the server to email a reset link. It needs no session.
func (p *Password) RequestReset(ctx context.Context, email string) error {
	return p.exec.Execute(ctx, as.Request{
		Method:    http.MethodPost,
		Path:      "/users/forgot-password",
		Body:      map[string]string{"email": email},
		Anonymous: true,
	}, nil)
}

// Change sets a new password for the signed-in user
func (p *Password) Change(ctx context.Context, current, next string) error {
	return p.exec.Execute(ctx, as.Request{
		Method: http.MethodPost,
		Path:   "/users/change-password",
		Body:   map[string]string{"currentPassword": current, "newPassword": next},
	}, nil)
}
