package internal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// SessionFile is the on-disk record of a login: who we are and the bearer
// token the auth provider issued.
type SessionFile struct {
	Username string `json:"username"`
	UserID   int64  `json:"user_id"`
	Token    string `json:"token"`
}

// SessionStore is the auth collaborator on the client side. It caches the
// current session in memory and mirrors it to disk so restarts stay logged in.
// Its Token method makes it the TokenSource for the connection and directory.
type SessionStore struct {
	path    string
	mu      sync.RWMutex
	current *SessionFile
}

// NewSessionStore loads any persisted session from path. A missing or
// corrupt file just means logged out.
func NewSessionStore(path string) *SessionStore {
	store := &SessionStore{path: path}
	if session, err := loadSessionFromDisk(path); err == nil {
		store.current = session
	}
	return store
}

// Token returns the current bearer token, or "" when logged out.
func (s *SessionStore) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return "", nil
	}
	return s.current.Token, nil
}

// Current returns the active session, or nil.
func (s *SessionStore) Current() *SessionFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set installs a fresh session and persists it.
func (s *SessionStore) Set(session SessionFile) error {
	s.mu.Lock()
	s.current = &session
	s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	return saveSessionToDisk(s.path, session)
}

// Clear forgets the session in memory and on disk.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	return deleteSessionFile(s.path)
}

func loadSessionFromDisk(path string) (*SessionFile, error) {
	if path == "" {
		return nil, errors.New("no session path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var session SessionFile
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	if session.Username == "" || session.Token == "" {
		return nil, errors.New("session file incomplete")
	}
	return &session, nil
}

func saveSessionToDisk(path string, session SessionFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func deleteSessionFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
