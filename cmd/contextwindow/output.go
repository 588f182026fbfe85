package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	agentcontext "github.com/entrhq/contextwindow/pkg/agent/context"
	"github.com/entrhq/contextwindow/pkg/types"
	"gopkg.in/yaml.v3"
)

// writeClipboard is swapped out in tests.
var writeClipboard = clipboard.WriteAll

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	overStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

// outputFlags are shared by commands that print a conversation.
type outputFlags struct {
	highlight bool
	copy      bool
}

func encodeMessages(messages []*types.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(messages); err != nil {
		return nil, fmt.Errorf("failed to encode conversation: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeMessages prints messages as YAML and honours the output flags.
// The clipboard always receives plain YAML.
func writeMessages(w io.Writer, messages []*types.Message, flags outputFlags) error {
	data, err := encodeMessages(messages)
	if err != nil {
		return err
	}

	if flags.highlight {
		if err := quick.Highlight(w, string(data), "yaml", "terminal256", "monokai"); err != nil {
			return fmt.Errorf("failed to highlight output: %w", err)
		}
	} else if _, err := w.Write(data); err != nil {
		return err
	}

	if flags.copy {
		if err := writeClipboard(string(data)); err != nil {
			return fmt.Errorf("failed to copy to clipboard: %w", err)
		}
	}
	return nil
}

func formatPath(path []agentcontext.State) string {
	names := make([]string, len(path))
	for i, s := range path {
		names[i] = s.String()
	}
	return strings.Join(names, " > ")
}

func statusStyle(final agentcontext.State) lipgloss.Style {
	switch final {
	case agentcontext.StateOK:
		return okStyle
	case agentcontext.StateWithinBudget:
		return warnStyle
	default:
		return overStyle
	}
}

func field(label string, value any) string {
	return labelStyle.Render(label+":") + " " + fmt.Sprint(value)
}

// renderOutcome summarizes a reduction pass in a few styled lines.
func renderOutcome(outcome *agentcontext.Outcome, before int) string {
	final := outcome.Final()
	lines := []string{
		statusStyle(final).Render(final.String()),
		field("path", formatPath(outcome.Path)),
		field("effective", fmt.Sprintf("%d / %.0f tokens", outcome.EffectiveTokens, outcome.Budget.AllowedTokens)),
		field("messages", fmt.Sprintf("%d > %d", before, len(outcome.Messages))),
	}
	if outcome.SummarizedTokens > 0 {
		lines = append(lines, field("summarized", fmt.Sprintf("%d tokens", outcome.SummarizedTokens)))
	}
	return strings.Join(lines, "\n") + "\n"
}

func renderBudget(b agentcontext.Budget) string {
	return strings.Join([]string{
		field("context window", b.ContextWindow),
		field("reserved", fmt.Sprintf("%.0f", b.ReservedTokens)),
		field("buffer", fmt.Sprintf("%.0f", b.BufferTokens)),
		field("allowed", okStyle.Render(fmt.Sprintf("%.0f", b.AllowedTokens))),
	}, "\n") + "\n"
}
