package main

import (
	"fmt"

	agentcontext "github.com/entrhq/contextwindow/pkg/agent/context"
	"github.com/entrhq/contextwindow/pkg/config"
	"github.com/spf13/cobra"
)

// modelFlags override the model section of the config.
type modelFlags struct {
	model             string
	encoding          string
	contextWindow     int
	maxResponseTokens int
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.model, "model", "", "model name used to pick the tokenizer (default from config)")
	cmd.Flags().StringVar(&f.encoding, "encoding", "", "tiktoken encoding, overrides --model")
	cmd.Flags().IntVarP(&f.contextWindow, "context-window", "w", 0, "context window in tokens (default from config)")
	cmd.Flags().IntVar(&f.maxResponseTokens, "max-response-tokens", 0, "tokens reserved for the reply; 0 reserves a share of the window")
}

// resolve fills every flag the user did not set from the config section.
func (f modelFlags) resolve(cmd *cobra.Command, section *config.ModelSection) modelFlags {
	if !cmd.Flags().Changed("model") {
		f.model = section.GetModel()
	}
	if !cmd.Flags().Changed("encoding") {
		f.encoding = section.GetEncoding()
	}
	if !cmd.Flags().Changed("context-window") {
		f.contextWindow = section.GetContextWindow()
	}
	if !cmd.Flags().Changed("max-response-tokens") {
		f.maxResponseTokens = section.GetMaxResponseTokens()
	}
	return f
}

func registerSummaryFlags(cmd *cobra.Command, s *summarySources) {
	cmd.Flags().StringVarP(&s.file, "summaries", "s", "", "YAML or JSON map of tagged-content id to summary (- for stdin)")
	cmd.Flags().StringVar(&s.dir, "summaries-dir", "", "directory with one summary per file, named by id")
	cmd.Flags().StringVar(&s.pattern, "summaries-glob", "*", "file name pattern for --summaries-dir")
}

func registerOutputFlags(cmd *cobra.Command, o *outputFlags) {
	cmd.Flags().BoolVar(&o.highlight, "highlight", false, "syntax-highlight the YAML output")
	cmd.Flags().BoolVar(&o.copy, "copy", false, "copy the YAML output to the clipboard")
}

func newReduceCmd(a *app) *cobra.Command {
	var (
		mf          modelFlags
		sources     summarySources
		out         outputFlags
		totalTokens int
	)

	cmd := &cobra.Command{
		Use:   "reduce FILE",
		Short: "Summarize and truncate a conversation until it fits the budget",
		Long: `reduce runs one budget pass over FILE (YAML or JSON, - for stdin).

The prior total is taken from --total-tokens, then from total_tokens in the
document, and otherwise counted with the model's tokenizer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadConversation(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			summaries, err := sources.load(cmd.InOrStdin(), doc.Summaries)
			if err != nil {
				return err
			}

			settings := mf.resolve(cmd, a.model)
			est, err := a.newEstimator(settings.model, settings.encoding)
			if err != nil {
				return fmt.Errorf("failed to create tokenizer: %w", err)
			}

			prior := 0
			switch {
			case cmd.Flags().Changed("total-tokens"):
				prior = totalTokens
			case doc.TotalTokens != nil:
				prior = *doc.TotalTokens
			case len(doc.Messages) > 1:
				prior = est.total(doc.Messages[:len(doc.Messages)-1])
			}

			manager, err := a.newManager(est)
			if err != nil {
				return err
			}
			outcome, err := manager.Evaluate(cmd.Context(), agentcontext.Request{
				Messages:          doc.Messages,
				TotalTokens:       prior,
				ContextWindow:     settings.contextWindow,
				MaxResponseTokens: settings.maxResponseTokens,
				Summaries:         summaries,
			})
			if err != nil {
				return err
			}

			if err := writeMessages(cmd.OutOrStdout(), outcome.Messages, out); err != nil {
				return err
			}
			fmt.Fprint(cmd.ErrOrStderr(), renderOutcome(outcome, len(doc.Messages)))
			return nil
		},
	}

	mf.register(cmd)
	registerSummaryFlags(cmd, &sources)
	registerOutputFlags(cmd, &out)
	cmd.Flags().IntVarP(&totalTokens, "total-tokens", "t", 0, "prior token total excluding the last message")
	return cmd
}

func newTruncateCmd(a *app) *cobra.Command {
	var (
		fraction float64
		out      outputFlags
	)

	cmd := &cobra.Command{
		Use:   "truncate FILE",
		Short: "Drop an even number of old messages, keeping the first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("fraction") {
				fraction = a.window.Options().FallbackTruncationFraction
			}
			if fraction < 0 || fraction >= 1 {
				return fmt.Errorf("fraction must be in [0, 1), got %v", fraction)
			}

			doc, err := loadConversation(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			truncated := agentcontext.TruncateConversation(doc.Messages, fraction)
			a.log.Debugf("Truncated %d of %d messages at fraction %.2f",
				len(doc.Messages)-len(truncated), len(doc.Messages), fraction)

			if err := writeMessages(cmd.OutOrStdout(), truncated, out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), field("messages", fmt.Sprintf("%d > %d", len(doc.Messages), len(truncated))))
			return nil
		},
	}

	cmd.Flags().Float64VarP(&fraction, "fraction", "f", agentcontext.DefaultFallbackTruncationFraction, "share of the messages after the first to drop (default from config)")
	registerOutputFlags(cmd, &out)
	return cmd
}

func newSummarizeCmd(a *app) *cobra.Command {
	var (
		sources summarySources
		out     outputFlags
	)

	cmd := &cobra.Command{
		Use:   "summarize FILE",
		Short: "Replace tagged content in interior user messages with summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadConversation(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			summaries, err := sources.load(cmd.InOrStdin(), doc.Summaries)
			if err != nil {
				return err
			}

			result, applied := agentcontext.SummarizeTaggedContent(doc.Messages, summaries)
			a.log.Debugf("Summarization with %d summaries applied=%t", len(summaries), applied)

			if err := writeMessages(cmd.OutOrStdout(), result, out); err != nil {
				return err
			}
			status := warnStyle.Render("no tagged content replaced")
			if applied {
				status = okStyle.Render("summaries applied")
			}
			fmt.Fprintln(cmd.ErrOrStderr(), status)
			return nil
		},
	}

	registerSummaryFlags(cmd, &sources)
	registerOutputFlags(cmd, &out)
	return cmd
}

func newBudgetCmd(a *app) *cobra.Command {
	var mf modelFlags

	cmd := &cobra.Command{
		Use:   "budget [FILE]",
		Short: "Show the token allowance, and whether FILE fits it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := mf.resolve(cmd, a.model)
			if settings.contextWindow <= 0 {
				return fmt.Errorf("%w: got %d", agentcontext.ErrInvalidContextWindow, settings.contextWindow)
			}

			budget := agentcontext.ComputeBudget(settings.contextWindow, settings.maxResponseTokens, a.window.Options())
			fmt.Fprint(cmd.OutOrStdout(), renderBudget(budget))
			if len(args) == 0 {
				return nil
			}

			doc, err := loadConversation(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			est, err := a.newEstimator(settings.model, settings.encoding)
			if err != nil {
				return fmt.Errorf("failed to create tokenizer: %w", err)
			}

			tokens := est.total(doc.Messages)
			status := okStyle.Render("fits")
			if budget.Exceeds(tokens) {
				status = overStyle.Render("over budget")
			}
			fmt.Fprintln(cmd.OutOrStdout(), field("conversation", fmt.Sprintf("%d tokens, %s", tokens, status)))
			return nil
		},
	}

	mf.register(cmd)
	return cmd
}
