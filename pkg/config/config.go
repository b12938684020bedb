package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// NewDefaultManager creates a manager over store with every quickbar
// section registered. Stored values are not loaded.
func NewDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)

	sections := []Section{
		NewPlannerSection(),
		NewSearchSection(),
		NewSafetySection(),
		NewBrowserSection(),
		NewStorageSection(),
	}
	for _, section := range sections {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// Initialize creates and initializes the global configuration manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager, err := NewDefaultManager(store)
	if err != nil {
		return err
	}

	if err := manager.LoadAll(); err != nil {
		return err
	}

	globalManager = manager
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}

	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

func section[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}
	s, ok := Global().GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := s.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetPlanner returns the planner section from global config.
// Returns nil if config is not initialized.
func GetPlanner() *PlannerSection {
	return section[*PlannerSection](SectionIDPlanner)
}

// GetSearch returns the search section from global config.
// Returns nil if config is not initialized.
func GetSearch() *SearchSection {
	return section[*SearchSection](SectionIDSearch)
}

// GetSafety returns the safety section from global config.
// Returns nil if config is not initialized.
func GetSafety() *SafetySection {
	return section[*SafetySection](SectionIDSafety)
}

// GetBrowser returns the browser section from global config.
// Returns nil if config is not initialized.
func GetBrowser() *BrowserSection {
	return section[*BrowserSection](SectionIDBrowser)
}

// GetStorage returns the storage section from global config.
// Returns nil if config is not initialized.
func GetStorage() *StorageSection {
	return section[*StorageSection](SectionIDStorage)
}
