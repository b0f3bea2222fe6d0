// Package auth persists backend credentials for the CLI so a token entered
// once at login survives across invocations.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agentstream/internal/logging"
)

// Credentials is what gets stored on disk.
type Credentials struct {
	Token   string    `json:"token"`
	BaseURL string    `json:"baseUrl,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

// IsLoggedIn reports whether a token is stored.
func (c Credentials) IsLoggedIn() bool { return c.Token != "" }

// Store reads and writes the credentials file. Safe for concurrent use
// within one process; the file itself is written atomically via rename.
type Store struct {
	mu   sync.Mutex
	path string
}

// DefaultPath returns the standard credentials location,
// .astream/credentials.json under the current workspace.
func DefaultPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".astream", "credentials.json")
	}
	return filepath.Join(cwd, ".astream", "credentials.json")
}

// NewStore creates a store over the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads stored credentials. A missing file is not an error; it returns
// empty credentials.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var creds Credentials
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return creds, nil
		}
		return creds, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return creds, nil
}

// Save writes credentials with owner-only permissions.
func (s *Store) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds.SavedAt = time.Now()
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	logging.Session("credentials saved to %s", s.path)
	return nil
}

// Clear removes the credentials file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	logging.Session("credentials cleared")
	return nil
}

// ResolveToken picks the effective token: an explicit value (flag or env)
// wins over the stored one.
func (s *Store) ResolveToken(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	creds, err := s.Load()
	if err != nil {
		return "", err
	}
	return creds.Token, nil
}
