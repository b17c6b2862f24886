package pipeline

// State is the position of the Controller in a flow.
type State int

const (
	Idle State = iota
	Extracting
	Classifying
	Packaging
	AwaitingPatch
	Failed
	Completed
	ExtractingBase
	ExtractingPayload
	ClassifyingPayload
	Injecting
	Repackaging
)

var stateNames = [...]string{
	Idle:               "idle",
	Extracting:         "extracting",
	Classifying:        "classifying",
	Packaging:          "packaging",
	AwaitingPatch:      "awaiting_patch",
	Failed:             "failed",
	Completed:          "completed",
	ExtractingBase:     "extracting_base",
	ExtractingPayload:  "extracting_payload",
	ClassifyingPayload: "classifying_payload",
	Injecting:          "injecting",
	Repackaging:        "repackaging",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Outcome is how a Convert ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeHalt means the package is a tweak: nothing was produced and a
	// Patch with a base archive is expected next. It is not an error.
	OutcomeHalt
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeHalt:
		return "halt"
	default:
		return "failure"
	}
}
