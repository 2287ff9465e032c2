package verify

import (
	"go.uber.org/zap"

	"github.com/sells-group/credverify/internal/model"
)

// transitions lists the legal successors of each non-terminal state.
// RECEIVED may skip EXTRACTING when the caller supplies a fingerprint or a
// corpus record. ERROR is reachable from every non-terminal state.
var transitions = map[model.VerificationState][]model.VerificationState{
	model.StateReceived:     {model.StateExtracting, model.StateHashComputed},
	model.StateExtracting:   {model.StateHashComputed},
	model.StateHashComputed: {model.StateExactLookup},
	model.StateExactLookup:  {model.StateFoundExact, model.StateLookupMiss},
	model.StateFoundExact:   {model.StateMinting},
	model.StateLookupMiss:   {model.StateFuzzyLookup, model.StateNoMatch},
	model.StateFuzzyLookup:  {model.StateFoundFuzzy, model.StateNoMatch},
	model.StateFoundFuzzy:   {model.StateMinting},
	model.StateMinting:      {model.StateVerified, model.StateMintFailed},
}

// run tracks one request through the workflow.
type run struct {
	id      string
	state   model.VerificationState
	history []model.VerificationState
	log     *zap.Logger
}

func newRun(id string, log *zap.Logger) *run {
	return &run{
		id:      id,
		state:   model.StateReceived,
		history: []model.VerificationState{model.StateReceived},
		log:     log,
	}
}

// to moves the run to next. An illegal move leaves the state unchanged.
func (r *run) to(next model.VerificationState) error {
	if !legal(r.state, next) {
		return &TransitionError{From: r.state, To: next}
	}
	r.log.Debug("verify: transition",
		zap.String("from", string(r.state)),
		zap.String("to", string(next)),
	)
	r.state = next
	r.history = append(r.history, next)
	return nil
}

func legal(from, to model.VerificationState) bool {
	if from.Terminal() {
		return false
	}
	if to == model.StateError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a workflow bug: a move the state machine does not
// allow.
type TransitionError struct {
	From, To model.VerificationState
}

func (e *TransitionError) Error() string {
	return "verify: illegal transition " + string(e.From) + " -> " + string(e.To)
}
