// ABOUTME: In-memory session store with idle expiry backed by an expirable LRU.
// ABOUTME: Each access renews the session's lifetime.

package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults for NewStore.
const (
	DefaultMaxSessions = 1000
	DefaultIdleTimeout = 2 * time.Hour
)

// Store maps session ids to state.
type Store struct {
	cache    *expirable.LRU[string, *State]
	defaults func() Data
	logger   *slog.Logger
}

// NewStore creates a store holding at most size sessions, each expiring
// after idle without access. defaults seeds new sessions and may be nil.
func NewStore(size int, idle time.Duration, defaults func() Data) *Store {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if defaults == nil {
		defaults = func() Data { return Data{} }
	}

	s := &Store{
		defaults: defaults,
		logger:   slog.Default().With("component", "session"),
	}
	s.cache = expirable.NewLRU[string, *State](size, func(id string, st *State) {
		s.logger.Debug("session expired", "session", id, "age", time.Since(st.Created()))
	}, idle)
	return s
}

// New creates and stores a fresh session.
func (s *Store) New() *State {
	st := NewState(uuid.NewString(), s.defaults())
	s.cache.Add(st.ID(), st)
	s.logger.Debug("session created", "session", st.ID())
	return st
}

// Get returns the session for id and renews its lifetime.
func (s *Store) Get(id string) (*State, bool) {
	if id == "" {
		return nil, false
	}
	st, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	s.cache.Add(id, st)
	return st, true
}

// Remove drops a session.
func (s *Store) Remove(id string) {
	s.cache.Remove(id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Exists reports whether id refers to a live session, renewing it if so.
func (s *Store) Exists(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Create starts a fresh session and returns its id.
func (s *Store) Create() string {
	return s.New().ID()
}
