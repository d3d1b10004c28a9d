package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cwygoda/postcatch/internal/domain"
)

// Cookie is the persisted form of a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// AuthState is the authentication blob stored per platform.
type AuthState struct {
	Platform string    `json:"platform"`
	SavedAt  time.Time `json:"saved_at"`
	Cookies  []Cookie  `json:"cookies"`
}

// StateStore keeps one {platform}_state.json file per platform. Files are
// only ever overwritten, never removed.
type StateStore struct {
	dir string
}

// NewStateStore creates a StateStore rooted at dir.
func NewStateStore(dir string) *StateStore {
	return &StateStore{dir: dir}
}

// Path returns the state file for p.
func (s *StateStore) Path(p domain.Platform) string {
	return filepath.Join(s.dir, p.String()+"_state.json")
}

// Load returns the saved state for p, or nil if none exists.
func (s *StateStore) Load(p domain.Platform) (*AuthState, error) {
	data, err := os.ReadFile(s.Path(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read auth state: %w", err)
	}
	var st AuthState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode auth state %s: %w", s.Path(p), err)
	}
	return &st, nil
}

// Save overwrites the state for p. The write goes through a temp file so a
// crash never leaves a truncated blob behind.
func (s *StateStore) Save(p domain.Platform, st AuthState) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	st.Platform = p.String()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, p.String()+"_state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path(p))
}
