package jobs

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a job or work item does not exist.
var ErrNotFound = errors.New("not found")

// TransitionError reports an attempted illegal job state transition.
type TransitionError struct {
	JobID string
	From  State
	To    State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal transition %s -> %s", e.JobID, e.From, e.To)
}

// IsTransitionError reports whether err wraps a TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
