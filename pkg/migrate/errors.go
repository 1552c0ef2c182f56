package migrate

import "fmt"

// ErrMigrationFailed wraps any failure encountered migrating a single
// v0 record, identifying which hash it was.
type ErrMigrationFailed struct {
	Hash   string
	Reason string
}

func (e *ErrMigrationFailed) Error() string {
	return fmt.Sprintf("migration of %s failed: %s", e.Hash, e.Reason)
}

// ErrValidationFailed carries one structural defect found by Validate.
type ErrValidationFailed struct {
	Hash   string
	Reason string
}

func (e *ErrValidationFailed) Error() string {
	return fmt.Sprintf("validation of %s failed: %s", e.Hash, e.Reason)
}

// ErrCycleDetected indicates a circular chain among stored objects'
// recorded dependencies.
type ErrCycleDetected struct {
	Chain []string
}

func (e *ErrCycleDetected) Error() string {
	msg := "dependency cycle detected: "
	for i, h := range e.Chain {
		if i > 0 {
			msg += " -> "
		}
		msg += h
	}
	return msg
}
