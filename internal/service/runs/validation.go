package runs

import (
	"errors"
	"strings"
)

// ValidationError aggregates every problem with a run submission so the
// caller sees all of them at once instead of fixing one per attempt.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid run submission: " + strings.Join(e.Issues, "; ")
}

// IsValidation reports whether err is a run-submission validation failure.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
