package pipeline

import "fmt"

// State is a phase of one pipeline run. One orchestrator instance walks the
// states strictly in sequence; Failed absorbs from any non-terminal state.
type State string

const (
	Idle                State = "idle"
	Simulating          State = "simulating"
	Reconstructing      State = "reconstructing"
	SpectrumGeneration  State = "spectrum_generation"
	HistogramExtraction State = "histogram_extraction"
	Done                State = "done"
	Failed              State = "failed"
)

// IsTerminal reports whether the state is terminal.
func IsTerminal(s State) bool {
	return s == Done || s == Failed
}

// allowedTransitions is the full transition table. There is no state
// skipping and no stage re-entry.
var allowedTransitions = map[State][]State{
	Idle:                {Simulating, Failed},
	Simulating:          {Reconstructing, Failed},
	Reconstructing:      {SpectrumGeneration, Failed},
	SpectrumGeneration:  {HistogramExtraction, Failed},
	HistogramExtraction: {Done, Failed},
}

// transition validates and applies a state change. An invalid transition is
// a programming error in the orchestrator, surfaced as an error so tests
// can observe it.
func (o *Orchestrator) transition(to State) error {
	for _, next := range allowedTransitions[o.state] {
		if next == to {
			o.state = to
			return nil
		}
	}
	return fmt.Errorf("pipeline: disallowed transition %s -> %s", o.state, to)
}
