package pipeline

// Outcome is a state of one generate invocation.
type Outcome string

const (
	Idle                Outcome = "idle"
	WindowSelected      Outcome = "window_selected"
	NoEvents            Outcome = "no_events"
	PromptComposed      Outcome = "prompt_composed"
	Completing          Outcome = "completing"
	CompletionFailed    Outcome = "completion_failed"
	CompletionSucceeded Outcome = "completion_succeeded"
	Recording           Outcome = "recording"
	Done                Outcome = "done"

	// SelectFailed ends a run whose event query hit a storage error before a
	// window could be selected.
	SelectFailed Outcome = "select_failed"
)

// transitions lists the legal successors of each state.
var transitions = map[Outcome][]Outcome{
	Idle:                {WindowSelected, SelectFailed},
	WindowSelected:      {NoEvents, PromptComposed},
	PromptComposed:      {Completing},
	Completing:          {CompletionFailed, CompletionSucceeded},
	CompletionSucceeded: {Recording},
	Recording:           {Done},
}

// Terminal reports whether o ends a run.
func (o Outcome) Terminal() bool {
	_, ok := transitions[o]
	return !ok
}

// CanTransition reports whether to is a legal successor of from.
func CanTransition(from, to Outcome) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
