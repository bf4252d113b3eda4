package recurrence

import "errors"

// ErrInvalidSpec matches every *InvalidSpecError via errors.Is.
var ErrInvalidSpec = errors.New("invalid recurrence spec")

// ErrInvalidRange is returned by Between when the window ends before it
// starts.
var ErrInvalidRange = errors.New("recurrence: window end is before window start")

// InvalidSpecError reports a Spec that breaks an invariant. Specs are never
// corrected silently.
type InvalidSpecError struct {
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return "invalid recurrence spec: " + e.Reason
}

func (e *InvalidSpecError) Is(target error) bool {
	return target == ErrInvalidSpec
}

func invalid(reason string) error {
	return &InvalidSpecError{Reason: reason}
}
