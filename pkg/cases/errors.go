package cases

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no case has the requested id.
	ErrNotFound = errors.New("case not found")
	// ErrInvalidTransition is returned when a case is not in the state a transition requires.
	ErrInvalidTransition = errors.New("invalid case transition")
	// ErrForbidden is returned when the actor may not act on the case.
	ErrForbidden = errors.New("not allowed to act on this case")
	// ErrActiveCaseExists is returned when a citizen already has a non-terminal case.
	ErrActiveCaseExists = errors.New("reporter already has an active case")
	// ErrNoLocation is returned when a case is submitted without any coordinate.
	ErrNoLocation = errors.New("no incident location: pick a location or enable GPS")
	// ErrValidation wraps every input validation failure.
	ErrValidation = errors.New("validation failed")
)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
