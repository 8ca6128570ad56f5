package authsession

import (
	"errors"
	"fmt"
	"sync"
)

// vault guards the stored credential triple. Every read made while building
// a request and every write of the triple goes through mu, so a reader never
// sees an access token paired with a refresh token from a different grant.
//
// epoch is bumped by explicit Login and Logout. A refresh that started under
// an older epoch must not write its result.
type vault struct {
	mu    sync.RWMutex
	store SecureStore
	epoch uint64
}

func newVault(store SecureStore) *vault {
	return &vault{store: store}
}

func (v *vault) load() Credential {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return LoadCredential(v.store)
}

// loadWithEpoch returns the triple and the epoch it was read under.
func (v *vault) loadWithEpoch() (Credential, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return LoadCredential(v.store), v.epoch
}

// writeLocked replaces the whole triple. Empty fields are deleted so the
// store never keeps a user id or refresh token from an older grant. If any
// write fails the previous triple is put back.
// Caller must hold v.mu for writing.
func (v *vault) writeLocked(cred Credential) error {
	prev := LoadCredential(v.store)
	for _, kind := range AllKinds {
		if err := v.putLocked(kind, cred.value(kind)); err != nil {
			if rerr := v.restoreLocked(prev); rerr != nil {
				return errors.Join(err, fmt.Errorf("restoring previous credential: %w", rerr))
			}
			return err
		}
	}
	return nil
}

// restoreLocked puts prev back, touching only the secrets that differ from
// it and continuing past failures.
func (v *vault) restoreLocked(prev Credential) error {
	var errs []error
	for _, kind := range AllKinds {
		want := prev.value(kind)
		if got, _ := v.store.Get(kind); got == want {
			continue
		}
		if err := v.putLocked(kind, want); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (v *vault) putLocked(kind CredentialKind, value string) error {
	var err error
	if value == "" {
		err = v.store.Delete(kind)
	} else {
		err = v.store.Save(kind, value)
	}
	if err != nil {
		return asStorageError(err, kind, "save")
	}
	return nil
}

// wipeLocked deletes all three secrets, continuing past failures.
// Caller must hold v.mu for writing.
func (v *vault) wipeLocked() error {
	var errs []error
	for _, kind := range AllKinds {
		if err := v.store.Delete(kind); err != nil {
			errs = append(errs, asStorageError(err, kind, "delete"))
		}
	}
	return errors.Join(errs...)
}

func asStorageError(err error, kind CredentialKind, op string) error {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr
	}
	return &StorageError{Op: op, Kind: kind, Err: err}
}
