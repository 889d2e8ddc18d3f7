// Package prefsfile implements preferences.Store as a YAML file.
package prefsfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Strob0t/deskgate/internal/domain/policy"
	"github.com/Strob0t/deskgate/internal/port/preferences"
)

var _ preferences.Store = (*Store)(nil)

// Store keeps policy settings in one YAML file.
type Store struct {
	mu            sync.Mutex
	path          string
	defaultGlobal policy.Policy
}

// New creates a store at path. defaultGlobal is the global policy reported
// before anything has been saved.
func New(path string, defaultGlobal policy.Policy) *Store {
	if defaultGlobal == "" {
		defaultGlobal = policy.Default
	}
	return &Store{path: path, defaultGlobal: defaultGlobal}
}

// Load reads the file. A missing file yields the default settings.
func (s *Store) Load(_ context.Context) (policy.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := policy.LoadFromFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return policy.Settings{Global: s.defaultGlobal}, nil
	}
	if err != nil {
		return policy.Settings{}, err
	}
	return settings, nil
}

// Save writes the settings through a temporary file and rename, so readers
// never observe a partial file.
func (s *Store) Save(_ context.Context, settings policy.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	data, err := policy.Marshal(settings)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".policies-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp preferences: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}
