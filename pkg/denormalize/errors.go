package denormalize

import "fmt"

// ErrMappingIncomplete is returned when a canonical identifier found in
// normalized_code has no entry in the chosen mapping's name_mapping
// (spec.md §4.5 step 2).
type ErrMappingIncomplete struct {
	Canonical string
}

func (e *ErrMappingIncomplete) Error() string {
	return fmt.Sprintf("mapping incomplete: no original name recorded for %s", e.Canonical)
}

// ErrMalformedCode is returned when normalized_code itself fails to
// parse or does not contain exactly one function definition — a sign
// of a corrupt object.json rather than a caller error.
type ErrMalformedCode struct {
	Reason string
}

func (e *ErrMalformedCode) Error() string {
	return fmt.Sprintf("malformed normalized code: %s", e.Reason)
}
