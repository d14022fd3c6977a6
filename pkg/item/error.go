package item

import "fmt"

// ValidationError reports malformed caller input. It is surfaced
// immediately and never silently coerced away.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
