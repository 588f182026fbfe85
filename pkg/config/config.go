// Package config persists context window settings in sections.
package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// Load opens the store at configPath (default when empty) and returns a
// manager with the window and model sections registered and loaded.
func Load(configPath string) (*Manager, error) {
	store, err := NewFileStore(configPath)
	if err != nil {
		return nil, err
	}

	manager := NewManager(store)
	if err := manager.RegisterSection(NewWindowSection()); err != nil {
		return nil, err
	}
	if err := manager.RegisterSection(NewModelSection()); err != nil {
		return nil, err
	}
	if err := manager.LoadAll(); err != nil {
		return nil, err
	}
	return manager, nil
}

// Initialize loads the global configuration manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	manager, err := Load(configPath)
	if err != nil {
		return err
	}

	globalMu.Lock()
	defer globalMu.Unlock()
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

// GetWindow returns the window section from global config, or nil.
func GetWindow() *WindowSection {
	if !IsInitialized() {
		return nil
	}
	return Window(Global())
}

// GetModel returns the model section from global config, or nil.
func GetModel() *ModelSection {
	if !IsInitialized() {
		return nil
	}
	return Model(Global())
}

// Window returns the window section registered on m, or nil.
func Window(m *Manager) *WindowSection {
	section, ok := m.GetSection(SectionIDWindow)
	if !ok {
		return nil
	}
	window, _ := section.(*WindowSection)
	return window
}

// Model returns the model section registered on m, or nil.
func Model(m *Manager) *ModelSection {
	section, ok := m.GetSection(SectionIDModel)
	if !ok {
		return nil
	}
	model, _ := section.(*ModelSection)
	return model
}
