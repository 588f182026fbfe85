package config

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// SectionIDModel is the identifier for the model settings section
	SectionIDModel = "model"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o"

	// DefaultContextWindow matches DefaultModel.
	DefaultContextWindow = 128000
)

// ModelSection describes the model whose context window is managed.
type ModelSection struct {
	Model         string
	ContextWindow int
	// MaxResponseTokens of 0 means the controller reserves a share of the window.
	MaxResponseTokens int
	// Encoding overrides the tokenizer encoding; empty derives it from Model.
	Encoding string
	mu       sync.RWMutex
}

// NewModelSection creates a model section with default settings.
func NewModelSection() *ModelSection {
	s := &ModelSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *ModelSection) ID() string {
	return SectionIDModel
}

// Title returns the section title.
func (s *ModelSection) Title() string {
	return "Model"
}

// Description returns the section description.
func (s *ModelSection) Description() string {
	return "Model name, context window size and response limit. encoding is optional and selects the tokenizer explicitly."
}

// Data returns the current configuration data.
func (s *ModelSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"model":               s.Model,
		"context_window":      s.ContextWindow,
		"max_response_tokens": s.MaxResponseTokens,
		"encoding":            s.Encoding,
	}
}

// SetData updates the configuration from the provided data.
func (s *ModelSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if model, ok := data["model"].(string); ok && model != "" {
		s.Model = model
	}
	if v, ok := intValue(data["context_window"]); ok {
		s.ContextWindow = v
	}
	if v, ok := intValue(data["max_response_tokens"]); ok {
		s.MaxResponseTokens = v
	}
	if encoding, ok := data["encoding"].(string); ok {
		s.Encoding = encoding
	}
	return nil
}

// Validate validates the current configuration.
func (s *ModelSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []error
	if s.ContextWindow <= 0 {
		errs = append(errs, fmt.Errorf("context_window must be positive, got %d", s.ContextWindow))
	}
	if s.MaxResponseTokens < 0 {
		errs = append(errs, fmt.Errorf("max_response_tokens must be non-negative, got %d", s.MaxResponseTokens))
	}
	return errors.Join(errs...)
}

// Reset resets the section to default configuration.
func (s *ModelSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model = DefaultModel
	s.ContextWindow = DefaultContextWindow
	s.MaxResponseTokens = 0
	s.Encoding = ""
}

// GetModel returns the configured model name.
func (s *ModelSection) GetModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Model
}

// GetContextWindow returns the configured context window.
func (s *ModelSection) GetContextWindow() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ContextWindow
}

// GetMaxResponseTokens returns the configured response limit.
func (s *ModelSection) GetMaxResponseTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxResponseTokens
}

// GetEncoding returns the explicit tokenizer encoding, if any.
func (s *ModelSection) GetEncoding() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Encoding
}
