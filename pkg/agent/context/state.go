package context

import "fmt"

// State is a step of a single reduction pass.
//
//	measure -> ok | over_budget
//	over_budget -> summarize | done (fewer than three messages)
//	summarize -> summary_insufficient | summary_applied
//	summary_insufficient -> truncate_original -> done
//	summary_applied -> remeasure -> still_over | within_budget
//	still_over -> truncate_summarized -> done
//	within_budget -> done
//	ok -> done
//
// Every path reaches done without revisiting a state.
type State int

const (
	StateMeasure State = iota
	StateOK
	StateOverBudget
	StateSummarize
	StateSummaryInsufficient
	StateTruncateOriginal
	StateSummaryApplied
	StateRemeasure
	StateStillOver
	StateTruncateSummarized
	StateWithinBudget
	StateDone
)

var stateNames = map[State]string{
	StateMeasure:             "measure",
	StateOK:                  "ok",
	StateOverBudget:          "over_budget",
	StateSummarize:           "summarize",
	StateSummaryInsufficient: "summary_insufficient",
	StateTruncateOriginal:    "truncate_original",
	StateSummaryApplied:      "summary_applied",
	StateRemeasure:           "remeasure",
	StateStillOver:           "still_over",
	StateTruncateSummarized:  "truncate_summarized",
	StateWithinBudget:        "within_budget",
	StateDone:                "done",
}

// String returns the snake_case state name used in logs and metrics.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// maxSteps bounds a pass; no path visits more states than exist.
const maxSteps = int(StateDone) + 1
