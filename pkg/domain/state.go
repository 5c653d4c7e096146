package domain

// State is the lifecycle state of an object within one transaction.
type State string

// Lifecycle states.
const (
	StateNotLoaded State = "not_loaded"
	StateNew       State = "new"
	StateUnchanged State = "unchanged"
	StateChanged   State = "changed"
	StateDeleted   State = "deleted"
	// StateInvalid marks an object that no longer exists in the transaction,
	// e.g. after its delete was committed or its creation rolled back.
	StateInvalid State = "invalid"
	// StateDiscarded is terminal: the object was created in a discarded transaction.
	StateDiscarded State = "discarded"
)

// Usable reports whether operations may still be performed on an object in this state.
func (s State) Usable() bool {
	return s != StateInvalid && s != StateDiscarded
}
