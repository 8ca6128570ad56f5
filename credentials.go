package authsession

import (
	"fmt"
	"log/slog"

	"github.com/heartpath/authsession/internal/redact"
)

// CredentialKind names one of the three secrets kept by a SecureStore.
type CredentialKind string

const (
	KindAccessToken  CredentialKind = "auth_token"
	KindRefreshToken CredentialKind = "refresh_token"
	KindUserID       CredentialKind = "user_id"
)

// AllKinds lists every secret a session owns, in write order.
var AllKinds = []CredentialKind{KindAccessToken, KindRefreshToken, KindUserID}

// Credential is the in-memory copy of the stored triple. An empty string
// means the secret is absent.
type Credential struct {
	AccessToken  string
	RefreshToken string
	UserID       string
}

// HasAccessToken returns true if an access token is available
func (c Credential) HasAccessToken() bool {
	return c.AccessToken != ""
}

// HasRefreshToken returns true if a refresh token is available
func (c Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// IsEmpty returns true if none of the three secrets is set
func (c Credential) IsEmpty() bool {
	return c.AccessToken == "" && c.RefreshToken == "" && c.UserID == ""
}

func (c Credential) value(kind CredentialKind) string {
	switch kind {
	case KindAccessToken:
		return c.AccessToken
	case KindRefreshToken:
		return c.RefreshToken
	case KindUserID:
		return c.UserID
	}
	return ""
}

// String reports which secrets are present. Token values are never printed.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{access=%s refresh=%s user=%s}",
		redact.Presence(c.AccessToken), redact.Presence(c.RefreshToken), redact.Presence(c.UserID))
}

// LogValue keeps token values out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access", redact.Presence(c.AccessToken)),
		slog.String("refresh", redact.Presence(c.RefreshToken)),
		slog.String("user", redact.Presence(c.UserID)),
	)
}

// SecureStore is durable, tamper-resistant storage for session secrets,
// isolated from any other persisted app data.
type SecureStore interface {
	// Save stores a secret. Any existing value for kind is removed first and
	// the new value added; a rejected write is returned as a *StorageError.
	Save(kind CredentialKind, value string) error

	// Get returns the secret, or false if it is absent or the platform
	// denied the read.
	Get(kind CredentialKind) (string, bool)

	// Delete removes the secret. Deleting an absent secret is not an error.
	Delete(kind CredentialKind) error
}

// LoadCredential reads the full triple from a store.
func LoadCredential(store SecureStore) Credential {
	var cred Credential
	cred.AccessToken, _ = store.Get(KindAccessToken)
	cred.RefreshToken, _ = store.Get(KindRefreshToken)
	cred.UserID, _ = store.Get(KindUserID)
	return cred
}
