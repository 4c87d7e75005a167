package domain

// StateKind enumerates the lifecycle states a job can be observed in.
// The store never holds a status column; the state is derived from which
// stage rows exist for the job ID.
type StateKind int

const (
	StatePending StateKind = iota
	StateValidated
	StateRejected
	StateSucceeded
	StateFailed
)

func (k StateKind) String() string {
	switch k {
	case StateValidated:
		return "validated"
	case StateRejected:
		return "rejected"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// JobState is the resolved view of a job: at most one of Outcome/Reason is
// meaningful, selected by Kind.
type JobState struct {
	Kind    StateKind
	Outcome string
	Reason  string
}

func (s JobState) Terminal() bool {
	return s.Kind == StateSucceeded || s.Kind == StateFailed
}

// ResolveState collapses the stage rows for one job into a single state.
// Precedence follows the poll transition rule: an outcome reference wins,
// then a failure message, then the validation verdict, then pending. A row
// carrying both an outcome and a message therefore resolves to succeeded;
// the contradictory combination is never surfaced to a caller.
func ResolveState(validation *Validation, attestation *Attestation) JobState {
	if attestation != nil {
		if attestation.Tx != "" {
			return JobState{Kind: StateSucceeded, Outcome: attestation.Tx}
		}
		if attestation.Message != "" {
			return JobState{Kind: StateFailed, Reason: attestation.Message}
		}
	}
	if validation != nil {
		if validation.IsValid {
			return JobState{Kind: StateValidated}
		}
		return JobState{Kind: StateRejected}
	}
	return JobState{Kind: StatePending}
}

// ResolveNoteState is ResolveState for the review flow, which has no
// validation stage.
func ResolveNoteState(note *Note) JobState {
	if note == nil {
		return JobState{Kind: StatePending}
	}
	if note.Tx != "" {
		return JobState{Kind: StateSucceeded, Outcome: note.Tx}
	}
	if note.Message != "" {
		return JobState{Kind: StateFailed, Reason: note.Message}
	}
	return JobState{Kind: StatePending}
}
