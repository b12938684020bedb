package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// SectionIDStorage is the identifier for the storage section
	SectionIDStorage = "storage"

	// StorageDriverSQLite keeps tab state in a SQLite file
	StorageDriverSQLite = "sqlite"

	// StorageDriverMemory keeps tab state in process memory
	StorageDriverMemory = "memory"
)

// StorageSection selects where tab state is persisted.
type StorageSection struct {
	Driver string `json:"driver"`

	// Path is the SQLite database file; empty means ~/.quickbar/state.db.
	Path string `json:"path"`

	mu sync.RWMutex
}

// NewStorageSection creates a storage section with default settings.
func NewStorageSection() *StorageSection {
	return &StorageSection{Driver: StorageDriverSQLite}
}

// ID returns the section identifier.
func (s *StorageSection) ID() string {
	return SectionIDStorage
}

// Title returns the section title.
func (s *StorageSection) Title() string {
	return "Storage"
}

// Description returns the section description.
func (s *StorageSection) Description() string {
	return "Backend used to persist per-tab state."
}

// Data returns the current configuration data.
func (s *StorageSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"driver": s.Driver,
		"path":   s.Path,
	}
}

// SetData updates the configuration from the provided data.
func (s *StorageSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "driver":
			s.Driver, err = stringValue(key, value)
		case "path":
			s.Path, err = stringValue(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *StorageSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.Driver {
	case StorageDriverSQLite, StorageDriverMemory:
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", s.Driver)
	}
}

// Reset resets the section to default configuration.
func (s *StorageSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Driver = StorageDriverSQLite
	s.Path = ""
}

// GetDriver returns the configured driver.
func (s *StorageSection) GetDriver() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Driver
}

// ResolvePath returns the database path, falling back to the default
// location under the user's home directory.
func (s *StorageSection) ResolvePath() (string, error) {
	s.mu.RLock()
	p := s.Path
	s.mu.RUnlock()

	if p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".quickbar", "state.db"), nil
}
