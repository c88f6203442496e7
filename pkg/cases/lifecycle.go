package cases

import "fmt"

// transitions is the forward-only lifecycle: pending -> assigned -> accepted -> completed.
var transitions = map[Status]Status{
	StatusPending:  StatusAssigned,
	StatusAssigned: StatusAccepted,
	StatusAccepted: StatusCompleted,
}

// CanTransition reports whether a case may move from one status to another.
func CanTransition(from, to Status) bool {
	next, ok := transitions[from]
	return ok && next == to
}

// Next returns the status that follows s, if any.
func Next(s Status) (Status, bool) {
	next, ok := transitions[s]
	return next, ok
}

// eventFor maps a target status to its routing key.
func eventFor(to Status) string {
	switch to {
	case StatusPending:
		return EventCreated
	case StatusAssigned:
		return EventAssigned
	case StatusAccepted:
		return EventAccepted
	case StatusCompleted:
		return EventCompleted
	}
	return "case." + string(to)
}

// Transition describes a conditional status change. The store applies it only
// when the case is still in From (and, if RequireRescueID is set, still held by
// that rescuer); otherwise it fails with ErrInvalidTransition and writes nothing.
type Transition struct {
	CaseID          string
	From            Status
	To              Status
	RequireRescueID string
	SetRescueID     string
	CloseNotes      string
}

func (t Transition) check() error {
	if !CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}
	return nil
}
