package workflow

import "fmt"

// InvalidTransitionError reports an illegal transition from the entity's
// current state, including the lost-race case where a concurrent
// transition committed first.
type InvalidTransitionError struct {
	Kind string
	ID   string
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s for %s", e.Kind, e.From, e.To, e.ID)
}

// ValidationError reports malformed input.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}
