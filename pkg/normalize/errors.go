package normalize

import "fmt"

// ErrMultipleDefinitions is returned when the parsed module contains
// zero or more than one top-level function definition.
type ErrMultipleDefinitions struct {
	Count int
}

func (e *ErrMultipleDefinitions) Error() string {
	return fmt.Sprintf("expected exactly one function definition, found %d", e.Count)
}

// ErrMalformedInput is returned for structurally invalid input that
// isn't a syntax error per se, such as an unparsable pool-import name.
type ErrMalformedInput struct {
	Reason string
}

func (e *ErrMalformedInput) Error() string {
	return fmt.Sprintf("malformed input: %s", e.Reason)
}
