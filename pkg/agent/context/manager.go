package context

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/contextwindow/pkg/logging"
	"github.com/entrhq/contextwindow/pkg/types"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmptyConversation is returned when there is no message to measure.
	ErrEmptyConversation = errors.New("conversation is empty")

	// ErrInvalidContextWindow is returned for a non-positive context window.
	ErrInvalidContextWindow = errors.New("context window must be positive")

	// ErrLastMessageEstimate wraps a failure to estimate the newest message.
	// There is no fallback for this estimate; the turn should be treated as failed.
	ErrLastMessageEstimate = errors.New("failed to estimate last message tokens")

	// ErrNilCounter is returned by NewManager when no counter is supplied.
	ErrNilCounter = errors.New("token counter is required")
)

var (
	debugLog     Logger
	debugLogOnce sync.Once
)

// defaultLogger opens the shared "context" file logger on first use.
func defaultLogger() Logger {
	debugLogOnce.Do(func() {
		// NewLogger reports its own stderr fallback.
		debugLog, _ = logging.NewLogger("context")
	})
	return debugLog
}

// Logger receives the manager's decision log.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
}

// Recorder receives reduction metrics. See package metrics for a Prometheus implementation.
type Recorder interface {
	ObserveMeasurement(effectiveTokens int, overBudget bool)
	ObserveEstimationFailure()
	ObserveReduction(path string, messagesRemoved int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMeasurement(int, bool)  {}
func (nopRecorder) ObserveEstimationFailure()     {}
func (nopRecorder) ObserveReduction(string, int) {}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the decision logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithOptions replaces the tunable constants.
func WithOptions(o Options) Option {
	return func(m *Manager) { m.opts = o }
}

// Request is the input of one reduction pass.
type Request struct {
	// Messages is the conversation. The last message is the newest user turn.
	Messages []*types.Message

	// TotalTokens is the running total of every message except the last.
	TotalTokens int

	// ContextWindow is the model's context size in tokens.
	ContextWindow int

	// MaxResponseTokens reserves room for the reply. Zero means unset.
	MaxResponseTokens int

	// Summaries maps tagged-content ids to summaries. Nil is treated as empty.
	Summaries SummaryMap
}

// Outcome is the result of one reduction pass.
type Outcome struct {
	Messages          []*types.Message
	Path              []State
	Budget            Budget
	LastMessageTokens int
	EffectiveTokens   int
	SummarizedTokens  int

	input []*types.Message
}

// Final returns the last state before done, which names the reduction path.
func (o *Outcome) Final() State {
	for i := len(o.Path) - 1; i >= 0; i-- {
		if o.Path[i] != StateDone {
			return o.Path[i]
		}
	}
	return StateMeasure
}

// Reduced reports whether the returned conversation differs from the input.
// A truncation that removes nothing and a summary that replaces nothing
// leave the conversation unreduced.
func (o *Outcome) Reduced() bool {
	if len(o.Messages) != len(o.input) {
		return true
	}
	for i := range o.Messages {
		if o.Messages[i] != o.input[i] {
			return true
		}
	}
	return false
}

// Manager keeps a conversation inside its model's context budget by
// summarizing tagged content first and truncating second.
type Manager struct {
	counter      TokenCounter
	opts         Options
	log          Logger
	recorder     Recorder
	eventChannel chan<- *types.AgentEvent
	mu           sync.RWMutex // protects counter, opts and eventChannel
}

// NewManager creates a manager that measures content with counter.
func NewManager(counter TokenCounter, options ...Option) (*Manager, error) {
	if counter == nil {
		return nil, ErrNilCounter
	}

	m := &Manager{
		counter:  counter,
		opts:     DefaultOptions(),
		recorder: nopRecorder{},
	}
	for _, opt := range options {
		opt(m)
	}
	if m.log == nil {
		m.log = defaultLogger()
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	if err := m.opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return m, nil
}

// SetEventChannel sets the channel that receives context events.
// Sends block, so the receiver must keep draining while a pass runs.
// A pass already running keeps the channel it started with.
func (m *Manager) SetEventChannel(eventChan chan<- *types.AgentEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventChannel = eventChan
}

// SetCounter swaps the token counter, e.g. after the model changes.
func (m *Manager) SetCounter(counter TokenCounter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter = counter
}

// SetOptions replaces the tunable constants after validating them.
func (m *Manager) SetOptions(o Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = o
	return nil
}

// GetOptions returns the current tunable constants.
func (m *Manager) GetOptions() Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts
}

func (m *Manager) snapshot() (TokenCounter, Options, chan<- *types.AgentEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counter, m.opts, m.eventChannel
}

// ReduceIfNeeded returns the conversation to send on the next model call:
// the input itself when it fits, otherwise a summarized and/or truncated copy.
func (m *Manager) ReduceIfNeeded(ctx context.Context, req Request) ([]*types.Message, error) {
	outcome, err := m.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	return outcome.Messages, nil
}

// Evaluate runs one reduction pass and reports the path it took.
func (m *Manager) Evaluate(ctx context.Context, req Request) (*Outcome, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyConversation
	}
	if req.ContextWindow <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidContextWindow, req.ContextWindow)
	}

	counter, opts, events := m.snapshot()
	p := &pass{
		m:       m,
		counter: counter,
		opts:    opts,
		events:  events,
		req:     req,
		outcome: &Outcome{
			Budget: ComputeBudget(req.ContextWindow, req.MaxResponseTokens, opts),
			input:  req.Messages,
		},
	}

	start := time.Now()
	state := StateMeasure
	for steps := 0; state != StateDone; steps++ {
		if steps > maxSteps {
			return nil, fmt.Errorf("reduction did not terminate, stuck in %s", state)
		}
		p.outcome.Path = append(p.outcome.Path, state)
		next, err := p.step(ctx, state)
		if err != nil {
			p.emit(types.NewContextReductionErrorEvent(err))
			return nil, err
		}
		state = next
	}
	p.outcome.Path = append(p.outcome.Path, StateDone)

	final := p.outcome.Final()
	removed := len(req.Messages) - len(p.outcome.Messages)
	m.recorder.ObserveReduction(final.String(), removed)
	m.log.Debugf("Reduction finished via %s: %d -> %d messages in %s",
		final, len(req.Messages), len(p.outcome.Messages), time.Since(start))
	p.emit(types.NewContextReductionCompleteEvent(types.ContextReduction{
		Path:             final.String(),
		EffectiveTokens:  p.outcome.EffectiveTokens,
		AllowedTokens:    p.outcome.Budget.AllowedTokens,
		SummarizedTokens: p.outcome.SummarizedTokens,
		MessagesBefore:   len(req.Messages),
		MessagesAfter:    len(p.outcome.Messages),
		Duration:         time.Since(start).String(),
	}))

	return p.outcome, nil
}

// pass holds the working state of one Evaluate call.
type pass struct {
	m          *Manager
	counter    TokenCounter
	opts       Options
	events     chan<- *types.AgentEvent
	req        Request
	summarized []*types.Message
	outcome    *Outcome
}

func (p *pass) emit(event *types.AgentEvent) {
	if p.events != nil {
		p.events <- event
	}
}

// step performs the work of state and returns the next state.
func (p *pass) step(ctx context.Context, state State) (State, error) {
	switch state {
	case StateMeasure:
		return p.measure(ctx)

	case StateOK:
		p.outcome.Messages = p.req.Messages
		return StateDone, nil

	case StateOverBudget:
		if len(p.req.Messages) < 3 {
			p.m.log.Infof("Over budget but only %d messages, nothing to reduce", len(p.req.Messages))
			p.outcome.Messages = p.req.Messages
			return StateDone, nil
		}
		return StateSummarize, nil

	case StateSummarize:
		summarized, applied := SummarizeTaggedContent(p.req.Messages, p.req.Summaries)
		p.emit(types.NewContextSummarizationEvent(applied, len(p.req.Messages)))
		if !applied {
			p.m.log.Infof("No summaries applied, performing standard truncation")
			return StateSummaryInsufficient, nil
		}
		p.summarized = summarized
		return StateSummaryApplied, nil

	case StateSummaryInsufficient:
		return StateTruncateOriginal, nil

	case StateTruncateOriginal:
		p.outcome.Messages = p.truncate(state, p.req.Messages)
		return StateDone, nil

	case StateSummaryApplied:
		return StateRemeasure, nil

	case StateRemeasure:
		p.outcome.SummarizedTokens = p.estimateAll(ctx, p.summarized)
		p.m.log.Infof("Tokens after summarization: %d (allowed %.0f)",
			p.outcome.SummarizedTokens, p.outcome.Budget.AllowedTokens)
		if p.outcome.Budget.Exceeds(p.outcome.SummarizedTokens) {
			return StateStillOver, nil
		}
		return StateWithinBudget, nil

	case StateStillOver:
		p.m.log.Infof("Still over limit after summarization, performing standard truncation")
		return StateTruncateSummarized, nil

	case StateTruncateSummarized:
		p.outcome.Messages = p.truncate(state, p.summarized)
		return StateDone, nil

	case StateWithinBudget:
		p.m.log.Infof("Summarization sufficient, no further truncation needed")
		p.outcome.Messages = p.summarized
		return StateDone, nil

	default:
		return StateDone, fmt.Errorf("unexpected reduction state %s", state)
	}
}

// measure estimates the newest message and compares the effective total with the budget.
func (p *pass) measure(ctx context.Context) (State, error) {
	last := p.req.Messages[len(p.req.Messages)-1]
	lastTokens, err := EstimateTokenCount(ctx, p.counter, last.ContentBlocks())
	if err != nil {
		return StateDone, fmt.Errorf("%w: %w", ErrLastMessageEstimate, err)
	}

	p.outcome.LastMessageTokens = lastTokens
	p.outcome.EffectiveTokens = p.req.TotalTokens + lastTokens
	over := p.outcome.Budget.Exceeds(p.outcome.EffectiveTokens)

	p.m.recorder.ObserveMeasurement(p.outcome.EffectiveTokens, over)
	p.emit(types.NewContextMeasuredEvent(p.outcome.EffectiveTokens, p.outcome.Budget.AllowedTokens, over))

	if !over {
		return StateOK, nil
	}
	p.m.log.Infof("Need to truncate. Effective tokens %d > Allowed tokens %.0f",
		p.outcome.EffectiveTokens, p.outcome.Budget.AllowedTokens)
	return StateOverBudget, nil
}

func (p *pass) truncate(state State, messages []*types.Message) []*types.Message {
	truncated := TruncateConversation(messages, p.opts.FallbackTruncationFraction)
	p.m.log.Infof("Truncated (%s): %d -> %d messages", state, len(messages), len(truncated))
	p.emit(types.NewContextTruncatedEvent(state.String(), len(messages), len(truncated)))
	return truncated
}

// estimateAll sums per-message estimates. Estimates run concurrently but
// are stored by index, so the sum follows message order. A failed estimate
// contributes EstimationPenaltyTokens instead of failing the pass.
func (p *pass) estimateAll(ctx context.Context, messages []*types.Message) int {
	counts := make([]int, len(messages))

	var g errgroup.Group
	limit := p.opts.EstimateConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, msg := range messages {
		i, msg := i, msg // per-iteration copies; go directive is below 1.22
		g.Go(func() error {
			n, err := EstimateTokenCount(ctx, p.counter, msg.ContentBlocks())
			if err != nil {
				penalty := p.opts.EstimationPenaltyTokens
				p.m.log.Warnf("Error estimating token count for message %d (%s), using penalty %d: %v",
					i, msg.Role, penalty, err)
				p.m.recorder.ObserveEstimationFailure()
				p.emit(types.NewContextEstimationFallbackEvent(i, penalty, err))
				n = penalty
			}
			counts[i] = n
			return nil
		})
	}
	_ = g.Wait() // workers never return an error

	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
