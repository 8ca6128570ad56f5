//go:build !wasm
// +build !wasm

// Package gorm persists the non-secret session Status with GORM so the app
// can decide which screen to show before touching secure storage. It works
// with any database GORM supports; the demo uses SQLite.
//
// # Usage
//
//	db, _ := gorm.Open(sqlite.Open("prefs.db"), &gorm.Config{})
//	_ = gormstore.AutoMigrate(db)
//	session := authsession.New(baseURL, store,
//		authsession.WithPreferences(gormstore.NewPreferencesStore(db)))
package gorm

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	as "github.com/heartpath/authsession"
)

// statusRowID is the only row in session_status; the app has one account.
const statusRowID = 1

// StatusModel is the GORM model for the cached session status
type StatusModel struct {
	ID            uint   `gorm:"primaryKey"`
	Authenticated bool   `gorm:"not null;default:false"`
	UserID        string `gorm:"size:128"`
	UpdatedAt     time.Time
}

func (StatusModel) TableName() string { return "session_status" }

// AutoMigrate creates or updates the preferences tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&StatusModel{})
}

// PreferencesStore implements authsession.Preferences
type PreferencesStore struct {
	db *gorm.DB
}

// NewPreferencesStore creates a new GORM-backed preferences store
func NewPreferencesStore(db *gorm.DB) *PreferencesStore {
	return &PreferencesStore{db: db}
}

// LoadStatus returns the cached status, or the zero Status if none was saved.
func (s *PreferencesStore) LoadStatus() (as.Status, error) {
	var m StatusModel
	err := s.db.First(&m, statusRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return as.Status{}, nil
	}
	if err != nil {
		return as.Status{}, fmt.Errorf("failed to load session status: %w", err)
	}
	return as.Status{Authenticated: m.Authenticated, UserID: m.UserID}, nil
}

// SaveStatus upserts the cached status
func (s *PreferencesStore) SaveStatus(status as.Status) error {
	m := StatusModel{
		ID:            statusRowID,
		Authenticated: status.Authenticated,
		UserID:        status.UserID,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"authenticated", "user_id", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save session status: %w", err)
	}
	return nil
}
