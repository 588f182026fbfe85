package types

// AgentEventType defines the type of event emitted while managing the context window.
type AgentEventType string

const (
	EventTypeContextMeasured           AgentEventType = "context_measured"            // EventTypeContextMeasured indicates the conversation was measured against the budget.
	EventTypeContextSummarization      AgentEventType = "context_summarization"       // EventTypeContextSummarization indicates the tagged-content summarizer ran.
	EventTypeContextTruncated          AgentEventType = "context_truncated"           // EventTypeContextTruncated indicates messages were dropped by truncation.
	EventTypeContextReductionComplete  AgentEventType = "context_reduction_complete"  // EventTypeContextReductionComplete indicates a reduction pass finished.
	EventTypeContextReductionError     AgentEventType = "context_reduction_error"     // EventTypeContextReductionError indicates a reduction pass failed.
	EventTypeContextEstimationFallback AgentEventType = "context_estimation_fallback" // EventTypeContextEstimationFallback indicates a per-message estimate failed and the penalty was used.
)

// AgentEvent represents an event emitted by the context manager.
type AgentEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Error contains error information for error events.
	Error error

	// Content holds a short human-readable description of the event.
	Content string

	// Type indicates the kind of event.
	Type AgentEventType

	// ContextReduction contains the reduction details for context events.
	ContextReduction *ContextReduction
}

// ContextReduction contains information about a context-window decision.
type ContextReduction struct {
	// Path is the name of the reduction path taken (e.g. "truncate_original").
	Path string

	// EffectiveTokens is the prior total plus the newest message estimate.
	EffectiveTokens int

	// AllowedTokens is the budget the conversation must fit into.
	AllowedTokens float64

	// SummarizedTokens is the recomputed total after summarization, if any.
	SummarizedTokens int

	// MessagesBefore is the message count on entry.
	MessagesBefore int

	// MessagesAfter is the message count on exit.
	MessagesAfter int

	// Duration is how long the decision took.
	Duration string
}

// IsError reports whether the event signals a failed pass. Estimation
// fallbacks carry the recovered error but are not failures.
func (e *AgentEvent) IsError() bool {
	if e.Type == EventTypeContextEstimationFallback {
		return false
	}
	return e.Type == EventTypeContextReductionError || e.Error != nil
}

// NewContextMeasuredEvent creates an event describing the budget measurement.
func NewContextMeasuredEvent(effectiveTokens int, allowedTokens float64, overBudget bool) *AgentEvent {
	return &AgentEvent{
		Type:     EventTypeContextMeasured,
		Metadata: map[string]interface{}{"over_budget": overBudget},
		ContextReduction: &ContextReduction{
			EffectiveTokens: effectiveTokens,
			AllowedTokens:   allowedTokens,
		},
	}
}

// NewContextSummarizationEvent creates an event describing a summarization attempt.
func NewContextSummarizationEvent(applied bool, messageCount int) *AgentEvent {
	return &AgentEvent{
		Type:     EventTypeContextSummarization,
		Metadata: map[string]interface{}{"applied": applied},
		ContextReduction: &ContextReduction{
			MessagesBefore: messageCount,
			MessagesAfter:  messageCount,
		},
	}
}

// NewContextTruncatedEvent creates an event describing a truncation.
func NewContextTruncatedEvent(path string, before, after int) *AgentEvent {
	return &AgentEvent{
		Type:     EventTypeContextTruncated,
		Metadata: make(map[string]interface{}),
		ContextReduction: &ContextReduction{
			Path:           path,
			MessagesBefore: before,
			MessagesAfter:  after,
		},
	}
}

// NewContextEstimationFallbackEvent creates an event for a per-message estimation failure.
func NewContextEstimationFallbackEvent(index, penalty int, err error) *AgentEvent {
	return &AgentEvent{
		Type:  EventTypeContextEstimationFallback,
		Error: err,
		Metadata: map[string]interface{}{
			"message_index": index,
			"penalty":       penalty,
		},
	}
}

// NewContextReductionCompleteEvent creates an event summarizing a finished pass.
func NewContextReductionCompleteEvent(reduction ContextReduction) *AgentEvent {
	return &AgentEvent{
		Type:             EventTypeContextReductionComplete,
		Metadata:         make(map[string]interface{}),
		ContextReduction: &reduction,
	}
}

// NewContextReductionErrorEvent creates an error event.
func NewContextReductionErrorEvent(err error) *AgentEvent {
	return &AgentEvent{
		Type:     EventTypeContextReductionError,
		Error:    err,
		Metadata: make(map[string]interface{}),
	}
}
