package incidents

// OutcomeKind tags the storage mutation a submit decided on.
type OutcomeKind string

const (
	OutcomeCreated   OutcomeKind = "created"
	OutcomeUpdated   OutcomeKind = "updated"
	OutcomeResolved  OutcomeKind = "resolved"
	OutcomeNoOpClear OutcomeKind = "noop_clear"
)

// Outcome is the tagged result of one submit call. IncidentID is empty only
// for OutcomeNoOpClear.
type Outcome struct {
	Kind       OutcomeKind
	IncidentID string
}
