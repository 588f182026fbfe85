package main

import (
	"fmt"

	agentcontext "github.com/entrhq/contextwindow/pkg/agent/context"
	"github.com/entrhq/contextwindow/pkg/config"
	"github.com/entrhq/contextwindow/pkg/llm/tokenizer"
	"github.com/entrhq/contextwindow/pkg/logging"
	"github.com/entrhq/contextwindow/pkg/types"
	"github.com/spf13/cobra"
)

// estimator pairs the controller's counter with a whole-conversation count
// used when the prior total is not supplied.
type estimator struct {
	counter agentcontext.TokenCounter
	total   func(messages []*types.Message) int
}

// app is shared by every subcommand of one invocation.
type app struct {
	configPath string
	logLevel   string
	verbose    bool
	logToFile  bool

	window *config.WindowSection
	model  *config.ModelSection
	log    *logging.Logger

	newEstimator func(model, encoding string) (*estimator, error)
}

func tiktokenEstimator(model, encoding string) (*estimator, error) {
	var (
		tok *tokenizer.Tokenizer
		err error
	)
	if encoding != "" {
		tok, err = tokenizer.NewWithEncoding(encoding)
	} else {
		tok, err = tokenizer.NewForModel(model)
	}
	if err != nil {
		return nil, err
	}
	return &estimator{
		counter: agentcontext.CounterFromTokenizer(tok),
		total:   tok.CountMessagesTokens,
	}, nil
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&app{newEstimator: tiktokenEstimator})
}

func newRootCmdWith(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "contextwindow",
		Short: "Keep conversation history inside a model's context window",
		Long: `contextwindow measures a conversation against a model's token budget and,
when it does not fit, replaces tagged content with summaries and drops
the oldest turns while keeping the first message and the newest one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.log != nil {
				return a.log.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (default ~/.contextwindow/config.json)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log every controller decision")
	rootCmd.PersistentFlags().BoolVar(&a.logToFile, "log-file", false, "write logs to the session file under ~/.contextwindow/logs")

	rootCmd.AddCommand(newReduceCmd(a))
	rootCmd.AddCommand(newTruncateCmd(a))
	rootCmd.AddCommand(newSummarizeCmd(a))
	rootCmd.AddCommand(newBudgetCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := config.Initialize(a.configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.window = config.GetWindow()
	a.model = config.GetModel()
	if err := a.window.Validate(); err != nil {
		return fmt.Errorf("invalid window config: %w", err)
	}

	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	if a.verbose {
		level = logging.LevelDebug
	}

	if a.logToFile {
		// On failure l is a stderr logger that has already reported why.
		l, _ := logging.NewLogger("cli")
		l.SetLevel(level)
		a.log = l
		return nil
	}
	a.log = logging.NewWriterLogger("cli", cmd.ErrOrStderr(), level)
	return nil
}

// newManager builds a controller from the loaded config.
func (a *app) newManager(est *estimator) (*agentcontext.Manager, error) {
	return agentcontext.NewManager(est.counter,
		agentcontext.WithOptions(a.window.Options()),
		agentcontext.WithLogger(a.log),
	)
}
