// Package creds holds the authenticated session credential.
package creds

import "sync"

// Store keeps the bearer token for the current authenticated session.
// An empty token means there is no session; the event channel refuses to
// connect and call setup is rejected until one is set.
type Store struct {
	mu    sync.RWMutex
	token string
}

// NewStore creates a Store, optionally pre-seeded with a token.
func NewStore(token string) *Store {
	return &Store{token: token}
}

// Set replaces the session token.
func (s *Store) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Get returns the current token, or "" when unauthenticated.
func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Clear drops the session token. Callers are expected to shut down the
// event channel and tear down any active call afterwards.
func (s *Store) Clear() {
	s.Set("")
}
