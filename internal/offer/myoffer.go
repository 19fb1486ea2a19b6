package offer

// MyStatus is the lifecycle state of a locally authored offer.
type MyStatus string

const (
	StatusIndefined   MyStatus = "indefined"
	StatusActive      MyStatus = "active"
	StatusDraft       MyStatus = "draft"
	StatusExpired     MyStatus = "expired"
	StatusCancelled   MyStatus = "cancelled"
	StatusSuspended   MyStatus = "suspended"
	StatusUnconfirmed MyStatus = "unconfirmed"
)

// myStatusTransitions is the exhaustive table of allowed MyStatus moves,
// per SPEC_FULL.md's "collapse scattered boolean state machines" design
// note: invalid transitions are rejected rather than silently ignored.
var myStatusTransitions = map[MyStatus]map[MyStatus]bool{
	StatusDraft:       {StatusUnconfirmed: true, StatusCancelled: true},
	StatusUnconfirmed: {StatusActive: true, StatusCancelled: true},
	StatusActive:      {StatusExpired: true, StatusCancelled: true, StatusSuspended: true},
	StatusSuspended:   {StatusActive: true, StatusCancelled: true},
	StatusExpired:     {StatusCancelled: true},
	StatusCancelled:   {},
	StatusIndefined:   {StatusDraft: true},
}

// TransitionMyStatus validates a status move, returning the target status
// on success or an error naming the rejected transition.
func TransitionMyStatus(from, to MyStatus) (MyStatus, error) {
	if from == to {
		return to, nil
	}
	allowed, ok := myStatusTransitions[from]
	if !ok || !allowed[to] {
		return from, &invalidTransitionError{from: string(from), to: string(to)}
	}
	return to, nil
}

type invalidTransitionError struct{ from, to string }

func (e *invalidTransitionError) Error() string {
	return "offer: invalid status transition " + e.from + " -> " + e.to
}

// MyRecord extends Record with the local lifecycle status.
type MyRecord struct {
	Record
	Status MyStatus
}
