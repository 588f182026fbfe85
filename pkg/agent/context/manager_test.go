package context

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/entrhq/contextwindow/pkg/logging"
	"github.com/entrhq/contextwindow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// charCounter charges one token per byte of text and ten per non-text block.
// Text containing "FAIL" makes the estimate fail.
var charCounter = TokenCounterFunc(func(_ context.Context, blocks []types.ContentBlock) (int, error) {
	total := 0
	for _, b := range blocks {
		if !b.IsText() {
			total += 10
			continue
		}
		if strings.Contains(b.Text, "FAIL") {
			return 0, errors.New("estimator unavailable")
		}
		total += len(b.Text)
	}
	return total, nil
})

type recordedReduction struct {
	path    string
	removed int
}

type fakeRecorder struct {
	mu           sync.Mutex
	measurements []int
	overBudget   []bool
	failures     int
	reductions   []recordedReduction
}

func (r *fakeRecorder) ObserveMeasurement(effective int, over bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.measurements = append(r.measurements, effective)
	r.overBudget = append(r.overBudget, over)
}

func (r *fakeRecorder) ObserveEstimationFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func (r *fakeRecorder) ObserveReduction(path string, removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reductions = append(r.reductions, recordedReduction{path, removed})
}

func newTestManager(t *testing.T, counter TokenCounter, opts ...Option) (*Manager, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts = append([]Option{WithLogger(logging.NewWriterLogger("context", &buf, logging.LevelDebug))}, opts...)
	m, err := NewManager(counter, opts...)
	require.NoError(t, err)
	return m, &buf
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(nil)
	assert.ErrorIs(t, err, ErrNilCounter)

	bad := DefaultOptions()
	bad.BufferFraction = 2
	_, err = NewManager(charCounter, WithOptions(bad), WithLogger(logging.Discard("context")))
	assert.Error(t, err)

	m, _ := newTestManager(t, charCounter)
	assert.Equal(t, DefaultOptions(), m.GetOptions())
}

func TestManager_SetOptions(t *testing.T) {
	m, _ := newTestManager(t, charCounter)

	custom := DefaultOptions()
	custom.EstimationPenaltyTokens = 5
	require.NoError(t, m.SetOptions(custom))
	assert.Equal(t, 5, m.GetOptions().EstimationPenaltyTokens)

	custom.FallbackTruncationFraction = 7
	assert.Error(t, m.SetOptions(custom))
	assert.Equal(t, DefaultFallbackTruncationFraction, m.GetOptions().FallbackTruncationFraction)
}

func TestReduceIfNeeded_WithinBudgetReturnsInput(t *testing.T) {
	m, _ := newTestManager(t, charCounter)
	messages := makeConversation(3)

	outcome, err := m.Evaluate(context.Background(), Request{
		Messages:      messages,
		TotalTokens:   10,
		ContextWindow: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, []State{StateMeasure, StateOK, StateDone}, outcome.Path)
	assert.Equal(t, StateOK, outcome.Final())
	assert.False(t, outcome.Reduced())
	assert.Equal(t, 12, outcome.EffectiveTokens)
	require.Len(t, outcome.Messages, 3)
	assert.Same(t, &messages[0], &outcome.Messages[0], "the input slice itself is returned")
}

func TestReduceIfNeeded_NoSummariesTruncatesOriginal(t *testing.T) {
	m, logs := newTestManager(t, charCounter)
	messages := makeConversation(7)

	outcome, err := m.Evaluate(context.Background(), Request{
		Messages:      messages,
		TotalTokens:   10000,
		ContextWindow: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateMeasure, StateOverBudget, StateSummarize,
		StateSummaryInsufficient, StateTruncateOriginal, StateDone,
	}, outcome.Path)
	require.Len(t, outcome.Messages, 5)
	assert.Same(t, messages[0], outcome.Messages[0])
	assert.Same(t, messages[3], outcome.Messages[1])
	assert.Same(t, messages[6], outcome.Messages[4])

	assert.Contains(t, logs.String(), "Need to truncate")
	assert.Contains(t, logs.String(), "No summaries applied")
}

func TestReduceIfNeeded_TruncationRemovingNothingIsNotReduced(t *testing.T) {
	m, _ := newTestManager(t, charCounter)
	messages := makeConversation(3)

	outcome, err := m.Evaluate(context.Background(), Request{
		Messages:      messages,
		TotalTokens:   10000,
		ContextWindow: 1000,
	})
	require.NoError(t, err)

	// floor(2*0.5) = 1, rounded down to 0.
	assert.Equal(t, StateTruncateOriginal, outcome.Final())
	assert.Equal(t, messages, outcome.Messages)
	assert.False(t, outcome.Reduced())
}

func TestOutcome_Reduced(t *testing.T) {
	messages := makeConversation(5)
	replaced := append([]*types.Message(nil), messages...)
	replaced[2] = types.NewUserMessage("summary")

	tests := []struct {
		name string
		got  []*types.Message
		want bool
	}{
		{name: "same messages", got: append([]*types.Message(nil), messages...), want: false},
		{name: "fewer messages", got: messages[2:], want: true},
		{name: "message replaced", got: replaced, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Outcome{Messages: tt.got, input: messages}
			assert.Equal(t, tt.want, o.Reduced())
		})
	}
}

func TestReduceIfNeeded_FewerThanThreeMessages(t *testing.T) {
	// 190000 prior tokens, a 2000-token last message and a 200k window.
	counter := new(MockCounter)
	counter.On("CountTokens", mock.Anything, mock.Anything).Return(2000, nil)
	m, _ := newTestManager(t, counter)
	messages := makeConversation(2)

	outcome, err := m.Evaluate(context.Background(), Request{
		Messages:      messages,
		TotalTokens:   190000,
		ContextWindow: 200000,
	})
	require.NoError(t, err)

	assert.Equal(t, 192000, outcome.EffectiveTokens)
	assert.InDelta(t, 140000, outcome.Budget.AllowedTokens, 1e-6)
	assert.InDelta(t, 40000, outcome.Budget.ReservedTokens, 1e-6)
	assert.Equal(t, []State{StateMeasure, StateOverBudget, StateDone}, outcome.Path)
	assert.Equal(t, messages, outcome.Messages)
	counter.AssertNumberOfCalls(t, "CountTokens", 1)
}

func TestReduceIfNeeded_SummarizationSufficient(t *testing.T) {
	m, logs := newTestManager(t, charCounter)
	messages := []*types.Message{
		types.NewUserMessage("task"),
		types.NewAssistantMessage("ok"),
		types.NewUserBlocksMessage(types.NewTextBlock(tagged("abc", strings.Repeat("x", 2000)))),
		types.NewAssistantMessage("done"),
		types.NewUserMessage("next"),
	}

	outcome, err := m.Evaluate(context.Background(), Request{
		Messages:      messages,
		TotalTokens:   2100,
		ContextWindow: 1000,
		Summaries:     SummaryMap{"abc": "gist"},
	})
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateMeasure, StateOverBudget, StateSummarize, StateSummaryApplied,
		StateRemeasure, StateWithinBudget, StateDone,
	}, outcome.Path)
	require.Len(t, outcome.Messages, 5)
	assert.Equal(t, SummaryPlaceholder("abc", "gist"), outcome.Messages[2].Blocks[0].Text)
	assert.Equal(t, 4+2+len(SummaryPlaceholder("abc", "gist"))+4+4, outcome.SummarizedTokens)
	assert.Contains(t, logs.String(), "Summarization sufficient")
}

func TestReduceIfNeeded_SummarizationInsufficientTruncatesSummarized(t *testing.T) {
	m, _ := newTestManager(t, charCounter)
	messages := []*types.Message{
		types.NewUserMessage("task"),
		types.NewAssistantMessage(strings.Repeat("y", 1000)),
		types.NewUserMessage("q"),
		types.NewUserBlocksMessage(types.NewTextBlock(tagged("abc", strings.Repeat("x", 2000)))),
		types.NewAssistantMessage("a"),
		types.NewUserMessage("b"),
		types.NewUserMessage("next"),
	}

	outcome, err := m.Evaluate(context.Background(), Request{
		Messages:      messages,
		TotalTokens:   3100,
		ContextWindow: 1000,
		Summaries:     SummaryMap{"abc": "gist"},
	})
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateMeasure, StateOverBudget, StateSummarize, StateSummaryApplied,
		StateRemeasure, StateStillOver, StateTruncateSummarized, StateDone,
	}, outcome.Path)
	require.Len(t, outcome.Messages, 5)
	assert.Same(t, messages[0], outcome.Messages[0])
	assert.Equal(t, SummaryPlaceholder("abc", "gist"), outcome.Messages[1].Blocks[0].Text)
	assert.Same(t, messages[6], outcome.Messages[4])
	assert.True(t, outcome.Reduced())
}

func TestReduceIfNeeded_EstimationFailureUsesPenalty(t *testing.T) {
	recorder := &fakeRecorder{}
	m, logs := newTestManager(t, charCounter, WithRecorder(recorder))
	messages := []*types.Message{
		types.NewUserMessage("task"),
		types.NewAssistantMessage("FAIL"),
		types.NewUserBlocksMessage(types.NewTextBlock(tagged("abc", "body"))),
		types.NewUserMessage("next"),
	}

	outcome, err := m.Evaluate(context.Background(), Request{
		Messages:      messages,
		TotalTokens:   8000,
		ContextWindow: 10000,
		Summaries:     SummaryMap{"abc": "gist"},
	})
	require.NoError(t, err)

	want := 4 + DefaultEstimationPenaltyTokens + len(SummaryPlaceholder("abc", "gist")) + 4
	assert.Equal(t, want, outcome.SummarizedTokens)
	assert.Equal(t, StateWithinBudget, outcome.Final())
	assert.Len(t, outcome.Messages, 4)
	assert.Equal(t, 1, recorder.failures)
	assert.Contains(t, logs.String(), "using penalty 1000")
}

func TestReduceIfNeeded_CustomPenaltyAndFraction(t *testing.T) {
	opts := DefaultOptions()
	opts.EstimationPenaltyTokens = 1
	opts.FallbackTruncationFraction = 0.9
	m, _ := newTestManager(t, charCounter, WithOptions(opts))
	messages := makeConversation(7)

	got, err := m.ReduceIfNeeded(context.Background(), Request{
		Messages:      messages,
		TotalTokens:   10000,
		ContextWindow: 1000,
	})
	require.NoError(t, err)
	// floor(6*0.9) = 5, rounded down to 4.
	assert.Equal(t, []*types.Message{messages[0], messages[5], messages[6]}, got)
}

func TestReduceIfNeeded_LastMessageEstimateFailurePropagates(t *testing.T) {
	boom := errors.New("rate limited")
	counter := new(MockCounter)
	counter.On("CountTokens", mock.Anything, mock.Anything).Return(0, boom)
	m, _ := newTestManager(t, counter)

	_, err := m.ReduceIfNeeded(context.Background(), Request{
		Messages:      makeConversation(5),
		ContextWindow: 1000,
	})
	assert.ErrorIs(t, err, ErrLastMessageEstimate)
	assert.ErrorIs(t, err, boom)
}

func TestReduceIfNeeded_PlainLastMessageIsWrapped(t *testing.T) {
	counter := new(MockCounter)
	counter.On("CountTokens", mock.Anything, []types.ContentBlock{types.NewTextBlock("hello")}).Return(5, nil).Once()
	m, _ := newTestManager(t, counter)

	outcome, err := m.Evaluate(context.Background(), Request{
		Messages:      []*types.Message{types.NewUserMessage("hello")},
		ContextWindow: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, outcome.LastMessageTokens)
	counter.AssertExpectations(t)
}

func TestReduceIfNeeded_InvalidInput(t *testing.T) {
	m, _ := newTestManager(t, charCounter)

	_, err := m.ReduceIfNeeded(context.Background(), Request{ContextWindow: 1000})
	assert.ErrorIs(t, err, ErrEmptyConversation)

	_, err = m.ReduceIfNeeded(context.Background(), Request{Messages: makeConversation(1)})
	assert.ErrorIs(t, err, ErrInvalidContextWindow)
}

func TestReduceIfNeeded_EmitsEvents(t *testing.T) {
	m, _ := newTestManager(t, charCounter)
	events := make(chan *types.AgentEvent, 16)
	m.SetEventChannel(events)

	_, err := m.ReduceIfNeeded(context.Background(), Request{
		Messages:      makeConversation(7),
		TotalTokens:   10000,
		ContextWindow: 1000,
	})
	require.NoError(t, err)
	close(events)

	var got []types.AgentEventType
	var complete *types.AgentEvent
	for e := range events {
		got = append(got, e.Type)
		if e.Type == types.EventTypeContextReductionComplete {
			complete = e
		}
	}
	assert.Equal(t, []types.AgentEventType{
		types.EventTypeContextMeasured,
		types.EventTypeContextSummarization,
		types.EventTypeContextTruncated,
		types.EventTypeContextReductionComplete,
	}, got)
	require.NotNil(t, complete)
	assert.Equal(t, "truncate_original", complete.ContextReduction.Path)
	assert.Equal(t, 7, complete.ContextReduction.MessagesBefore)
	assert.Equal(t, 5, complete.ContextReduction.MessagesAfter)
}

func TestManager_SetEventChannelDuringPass(t *testing.T) {
	m, _ := newTestManager(t, charCounter)
	first := make(chan *types.AgentEvent)
	second := make(chan *types.AgentEvent, 8)
	m.SetEventChannel(first)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.ReduceIfNeeded(context.Background(), Request{
			Messages:      makeConversation(7),
			TotalTokens:   10000,
			ContextWindow: 1000,
		})
		errCh <- err
	}()

	got := []types.AgentEventType{(<-first).Type}
	m.SetEventChannel(second)
	for len(got) < 4 {
		got = append(got, (<-first).Type)
	}
	require.NoError(t, <-errCh)

	assert.Equal(t, types.EventTypeContextReductionComplete, got[3])
	assert.Empty(t, second, "a running pass keeps the channel it started with")
}

func TestManager_SetEventChannelConcurrentWithFallbacks(t *testing.T) {
	m, _ := newTestManager(t, charCounter)
	messages := []*types.Message{
		types.NewUserMessage("task"),
		types.NewAssistantMessage("FAIL"),
		types.NewUserMessage("FAIL"),
		types.NewUserBlocksMessage(types.NewTextBlock(tagged("abc", "body"))),
		types.NewUserMessage("next"),
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Room for every pass's events, whichever channel each one captured.
			events := make(chan *types.AgentEvent, 32)
			m.SetEventChannel(events)
			_, err := m.ReduceIfNeeded(context.Background(), Request{
				Messages:      messages,
				TotalTokens:   8000,
				ContextWindow: 10000,
				Summaries:     SummaryMap{"abc": "gist"},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestReduceIfNeeded_EmitsErrorEvent(t *testing.T) {
	counter := new(MockCounter)
	counter.On("CountTokens", mock.Anything, mock.Anything).Return(0, errors.New("down"))
	m, _ := newTestManager(t, counter)
	events := make(chan *types.AgentEvent, 4)
	m.SetEventChannel(events)

	_, err := m.ReduceIfNeeded(context.Background(), Request{Messages: makeConversation(3), ContextWindow: 1000})
	require.Error(t, err)
	close(events)

	var last *types.AgentEvent
	for e := range events {
		last = e
	}
	require.NotNil(t, last)
	assert.Equal(t, types.EventTypeContextReductionError, last.Type)
}

func TestReduceIfNeeded_RecordsMetrics(t *testing.T) {
	recorder := &fakeRecorder{}
	m, _ := newTestManager(t, charCounter, WithRecorder(recorder))

	_, err := m.ReduceIfNeeded(context.Background(), Request{
		Messages:      makeConversation(7),
		TotalTokens:   10000,
		ContextWindow: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{10002}, recorder.measurements)
	assert.Equal(t, []bool{true}, recorder.overBudget)
	assert.Equal(t, []recordedReduction{{"truncate_original", 2}}, recorder.reductions)
}

func TestReduceIfNeeded_SwappedCounter(t *testing.T) {
	m, _ := newTestManager(t, charCounter)
	m.SetCounter(TokenCounterFunc(func(context.Context, []types.ContentBlock) (int, error) {
		return 1_000_000, nil
	}))

	outcome, err := m.Evaluate(context.Background(), Request{Messages: makeConversation(5), ContextWindow: 1000})
	require.NoError(t, err)
	assert.Equal(t, StateTruncateOriginal, outcome.Final())
}

func TestPassStep_Transitions(t *testing.T) {
	m, _ := newTestManager(t, charCounter)
	newPass := func(messages []*types.Message, summaries SummaryMap) *pass {
		return &pass{
			m:       m,
			counter: charCounter,
			opts:    DefaultOptions(),
			req:     Request{Messages: messages, ContextWindow: 1000, Summaries: summaries},
			outcome: &Outcome{Budget: ComputeBudget(1000, 0, DefaultOptions())},
		}
	}
	ctx := context.Background()

	t.Run("over budget with two messages is done", func(t *testing.T) {
		p := newPass(makeConversation(2), nil)
		next, err := p.step(ctx, StateOverBudget)
		require.NoError(t, err)
		assert.Equal(t, StateDone, next)
		assert.Len(t, p.outcome.Messages, 2)
	})

	t.Run("over budget with three messages summarizes", func(t *testing.T) {
		next, err := newPass(makeConversation(3), nil).step(ctx, StateOverBudget)
		require.NoError(t, err)
		assert.Equal(t, StateSummarize, next)
	})

	t.Run("summarize without matches is insufficient", func(t *testing.T) {
		next, err := newPass(makeConversation(5), SummaryMap{"x": "y"}).step(ctx, StateSummarize)
		require.NoError(t, err)
		assert.Equal(t, StateSummaryInsufficient, next)
	})

	t.Run("remeasure within budget", func(t *testing.T) {
		p := newPass(nil, nil)
		p.summarized = makeConversation(3)
		next, err := p.step(ctx, StateRemeasure)
		require.NoError(t, err)
		assert.Equal(t, StateWithinBudget, next)
		assert.Equal(t, 6, p.outcome.SummarizedTokens)
	})

	t.Run("remeasure still over", func(t *testing.T) {
		p := newPass(nil, nil)
		p.summarized = []*types.Message{types.NewUserMessage(strings.Repeat("z", 701))}
		next, err := p.step(ctx, StateRemeasure)
		require.NoError(t, err)
		assert.Equal(t, StateStillOver, next)
	})

	t.Run("unknown state errors", func(t *testing.T) {
		_, err := newPass(nil, nil).step(ctx, State(99))
		assert.Error(t, err)
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "truncate_summarized", StateTruncateSummarized.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestReduceIfNeeded_Properties(t *testing.T) {
	m, _ := newTestManager(t, charCounter)

	rapid.Check(t, func(rt *rapid.T) {
		messages := genMarkupConversation(rt)
		req := Request{
			Messages:      messages,
			TotalTokens:   rapid.IntRange(0, 1500).Draw(rt, "total"),
			ContextWindow: 1000,
			Summaries:     SummaryMap{"a": "A", "c": "C"},
		}

		outcome, err := m.Evaluate(context.Background(), req)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		got := outcome.Messages

		if !outcome.Budget.Exceeds(outcome.EffectiveTokens) {
			if len(got) != len(messages) {
				rt.Fatalf("within budget but length changed")
			}
			for i := range messages {
				if got[i] != messages[i] {
					rt.Fatalf("within budget but message %d changed", i)
				}
			}
		}
		if got[0] != messages[0] {
			rt.Fatalf("first message not preserved")
		}
		if got[len(got)-1] != messages[len(messages)-1] {
			rt.Fatalf("last message not preserved")
		}
		if (len(messages)-len(got))%2 != 0 {
			rt.Fatalf("odd number of messages removed")
		}
		if outcome.Path[len(outcome.Path)-1] != StateDone {
			rt.Fatalf("path does not end in done: %v", outcome.Path)
		}
	})
}

func TestDefaultLogger_FallbackWarnsOnce(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	require.NoError(t, os.WriteFile(home, nil, 0600))
	t.Setenv("HOME", home)

	debugLogOnce = sync.Once{}
	t.Cleanup(func() {
		debugLogOnce = sync.Once{}
		debugLog = nil
	})

	r, w, err := os.Pipe()
	require.NoError(t, err)
	stderr := os.Stderr
	os.Stderr = w
	l := defaultLogger()
	os.Stderr = stderr
	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	require.NotNil(t, l)
	assert.Same(t, l, defaultLogger())
	assert.Equal(t, 1, strings.Count(string(out), "WARN"), string(out))
}
