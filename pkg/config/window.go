package config

import (
	"sync"

	agentcontext "github.com/entrhq/contextwindow/pkg/agent/context"
)

const (
	// SectionIDWindow is the identifier for the budget controller section
	SectionIDWindow = "window"
)

// WindowSection holds the budget controller tunables.
type WindowSection struct {
	BufferFraction             float64
	ReservedFraction           float64
	EstimationPenaltyTokens    int
	FallbackTruncationFraction float64
	EstimateConcurrency        int
	mu                         sync.RWMutex
}

// NewWindowSection creates a window section with the controller defaults.
func NewWindowSection() *WindowSection {
	s := &WindowSection{}
	s.Reset()
	return s
}

// ID returns the section identifier.
func (s *WindowSection) ID() string {
	return SectionIDWindow
}

// Title returns the section title.
func (s *WindowSection) Title() string {
	return "Context Window"
}

// Description returns the section description.
func (s *WindowSection) Description() string {
	return "Budget controller settings: safety buffer, default response reservation, estimation penalty and fallback truncation fraction."
}

// Data returns the current configuration data.
func (s *WindowSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"buffer_fraction":              s.BufferFraction,
		"reserved_fraction":            s.ReservedFraction,
		"estimation_penalty_tokens":    s.EstimationPenaltyTokens,
		"fallback_truncation_fraction": s.FallbackTruncationFraction,
		"estimate_concurrency":         s.EstimateConcurrency,
	}
}

// SetData updates the configuration from the provided data.
func (s *WindowSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := floatValue(data["buffer_fraction"]); ok {
		s.BufferFraction = v
	}
	if v, ok := floatValue(data["reserved_fraction"]); ok {
		s.ReservedFraction = v
	}
	if v, ok := intValue(data["estimation_penalty_tokens"]); ok {
		s.EstimationPenaltyTokens = v
	}
	if v, ok := floatValue(data["fallback_truncation_fraction"]); ok {
		s.FallbackTruncationFraction = v
	}
	if v, ok := intValue(data["estimate_concurrency"]); ok {
		s.EstimateConcurrency = v
	}
	return nil
}

// Validate applies the controller's own option checks.
func (s *WindowSection) Validate() error {
	return s.Options().Validate()
}

// Reset resets the section to default configuration.
func (s *WindowSection) Reset() {
	d := agentcontext.DefaultOptions()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.BufferFraction = d.BufferFraction
	s.ReservedFraction = d.DefaultReservedFraction
	s.EstimationPenaltyTokens = d.EstimationPenaltyTokens
	s.FallbackTruncationFraction = d.FallbackTruncationFraction
	s.EstimateConcurrency = d.EstimateConcurrency
}

// Options converts the section into controller options.
func (s *WindowSection) Options() agentcontext.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return agentcontext.Options{
		BufferFraction:             s.BufferFraction,
		DefaultReservedFraction:    s.ReservedFraction,
		EstimationPenaltyTokens:    s.EstimationPenaltyTokens,
		FallbackTruncationFraction: s.FallbackTruncationFraction,
		EstimateConcurrency:        s.EstimateConcurrency,
	}
}

// SetOptions copies controller options into the section.
func (s *WindowSection) SetOptions(opts agentcontext.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BufferFraction = opts.BufferFraction
	s.ReservedFraction = opts.DefaultReservedFraction
	s.EstimationPenaltyTokens = opts.EstimationPenaltyTokens
	s.FallbackTruncationFraction = opts.FallbackTruncationFraction
	s.EstimateConcurrency = opts.EstimateConcurrency
}

// JSON decoding yields float64; sections set in code may hold ints.
func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
