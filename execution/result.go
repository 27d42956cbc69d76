package execution

import (
	"github.com/isdmx/gradebox/archive"
)

// Outcome is the discriminated result of one execution
type Outcome string

const (
	OutcomeOk    Outcome = "ok"
	OutcomeNok   Outcome = "nok"
	OutcomeError Outcome = "error"
)

// Result is returned to callers of Evaluate and Run
type Result struct {
	Outcome Outcome  `json:"result"`
	Stdout  string   `json:"stdout,omitempty"`
	Actions []string `json:"actions,omitempty"`
	Message string   `json:"message,omitempty"`
	Score   *float64 `json:"score,omitempty"`
}

// RunType distinguishes graded evaluations from ad-hoc runs
type RunType int

const (
	Evaluation RunType = iota
	AdHocRun
)

// String returns the run type as passed to merge scripts
func (r RunType) String() string {
	if r == Evaluation {
		return "eval"
	}
	return "exec"
}

func (r RunType) manifestKind() string {
	if r == Evaluation {
		return archive.KindEvaluation
	}
	return archive.KindExecution
}

// Participant facing messages
const (
	MessageUnsupported   = "Evaluation of this task is not supported by the web system."
	MessageBusyEvaluate  = "Too many evaluations are running at once, try again later."
	MessageBusyRun       = "Too many programs are running at once, try again later."
	MessageRunFailed     = "Your code could not be run, fix the errors!"
	MessageSystemFailure = "Evaluation system error, please contact the organizers."
)

func busyMessage(rt RunType) string {
	if rt == Evaluation {
		return MessageBusyEvaluate
	}
	return MessageBusyRun
}
