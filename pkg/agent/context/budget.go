package context

import (
	"errors"
	"fmt"
)

// Defaults for Options.
const (
	DefaultBufferFraction             = 0.1
	DefaultReservedFraction           = 0.2
	DefaultEstimationPenaltyTokens    = 1000
	DefaultFallbackTruncationFraction = 0.5
	DefaultEstimateConcurrency        = 4
)

// Options holds the tunable constants of the budget controller.
type Options struct {
	// BufferFraction is the share of the context window kept free as a safety margin.
	BufferFraction float64

	// DefaultReservedFraction is the share of the window reserved for the
	// response when no explicit response limit is given.
	DefaultReservedFraction float64

	// EstimationPenaltyTokens is charged for a message whose estimate fails
	// while re-measuring a summarized conversation.
	EstimationPenaltyTokens int

	// FallbackTruncationFraction is the fraction passed to TruncateConversation.
	// It must stay below 1 so the newest message survives truncation.
	FallbackTruncationFraction float64

	// EstimateConcurrency bounds parallel per-message estimates.
	EstimateConcurrency int
}

// DefaultOptions returns the stock controller settings.
func DefaultOptions() Options {
	return Options{
		BufferFraction:             DefaultBufferFraction,
		DefaultReservedFraction:    DefaultReservedFraction,
		EstimationPenaltyTokens:    DefaultEstimationPenaltyTokens,
		FallbackTruncationFraction: DefaultFallbackTruncationFraction,
		EstimateConcurrency:        DefaultEstimateConcurrency,
	}
}

// Validate checks the fractions and that counts are non-negative.
func (o Options) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %v", name, v))
		}
	}
	check("buffer fraction", o.BufferFraction)
	check("reserved fraction", o.DefaultReservedFraction)
	// A fraction of 1 could remove the newest message.
	if o.FallbackTruncationFraction < 0 || o.FallbackTruncationFraction >= 1 {
		errs = append(errs, fmt.Errorf("fallback truncation fraction must be in [0, 1), got %v", o.FallbackTruncationFraction))
	}
	if o.EstimationPenaltyTokens < 0 {
		errs = append(errs, fmt.Errorf("estimation penalty must be non-negative, got %d", o.EstimationPenaltyTokens))
	}
	if o.EstimateConcurrency < 0 {
		errs = append(errs, fmt.Errorf("estimate concurrency must be non-negative, got %d", o.EstimateConcurrency))
	}
	return errors.Join(errs...)
}

// Budget is the token allowance derived from a context window.
type Budget struct {
	ContextWindow  int
	ReservedTokens float64
	BufferTokens   float64
	AllowedTokens  float64
}

// ComputeBudget derives the allowance for a context window.
// maxResponseTokens <= 0 means "not set" and reserves DefaultReservedFraction
// of the window instead.
func ComputeBudget(contextWindow, maxResponseTokens int, opts Options) Budget {
	window := float64(contextWindow)

	reserved := float64(maxResponseTokens)
	if maxResponseTokens <= 0 {
		reserved = window * opts.DefaultReservedFraction
	}

	return Budget{
		ContextWindow:  contextWindow,
		ReservedTokens: reserved,
		BufferTokens:   window * opts.BufferFraction,
		AllowedTokens:  window*(1-opts.BufferFraction) - reserved,
	}
}

// Exceeds reports whether tokens is over the allowance.
func (b Budget) Exceeds(tokens int) bool {
	return float64(tokens) > b.AllowedTokens
}
