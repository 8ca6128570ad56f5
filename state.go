package authsession

import (
	"log/slog"
	"sync"
)

// Status is what the UI layer sees of the session. It never carries secrets.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
}

// Preferences persists the last known Status outside of secure storage so
// the UI can make a fast cold-start decision. The SecureStore stays the
// source of truth for whether requests can be authenticated.
type Preferences interface {
	LoadStatus() (Status, error)
	SaveStatus(status Status) error
}

// State is the observable session status. Observers run synchronously on
// every transition, in transition order, and must not call back into the
// Session that owns this State.
type State struct {
	notifyMu sync.Mutex // serializes transitions with their notifications
	mu       sync.RWMutex
	status   Status

	observers map[int]func(Status)
	nextID    int

	prefs  Preferences
	logger *slog.Logger
}

// NewState creates a State seeded from prefs when given.
func NewState(prefs Preferences, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	s := &State{
		observers: make(map[int]func(Status)),
		prefs:     prefs,
		logger:    logger,
	}
	if prefs != nil {
		status, err := prefs.LoadStatus()
		if err != nil {
			logger.Warn("failed to load session preferences", "err", err)
		} else {
			s.status = status
		}
	}
	return s
}

// Status returns the current status
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsAuthenticated returns true if a user is signed in
func (s *State) IsAuthenticated() bool {
	return s.Status().Authenticated
}

// CurrentUserID returns the signed-in user id, or "" if unknown
func (s *State) CurrentUserID() string {
	return s.Status().UserID
}

// Login marks the session authenticated for userID.
func (s *State) Login(userID string) {
	s.transition(Status{Authenticated: true, UserID: userID})
}

// Logout marks the session logged out. Calling it repeatedly is harmless.
func (s *State) Logout() {
	s.transition(Status{})
}

// Subscribe registers fn for status changes and returns a function that
// removes it.
func (s *State) Subscribe(fn func(Status)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *State) transition(next Status) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.status == next {
		s.mu.Unlock()
		return
	}
	s.status = next
	observers := make([]func(Status), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	if s.prefs != nil {
		if err := s.prefs.SaveStatus(next); err != nil {
			s.logger.Warn("failed to persist session status", "err", err)
		}
	}

	for _, fn := range observers {
		fn(next)
	}
}
