package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks a call whose output failed validation on every attempt.
var ErrValidation = errors.New("validation failed after retries")

// ValidationError carries the per-attempt failures accumulated by Attempt.
type ValidationError struct {
	Attempts int
	Failures []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%v after %d attempts: %s", ErrValidation, e.Attempts, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Attempt runs call up to max times until validate accepts its output. Prior
// validation failures are handed back to call so it can inject feedback into
// the next attempt. A call error (as opposed to a validation failure) aborts
// immediately: infrastructure failures are not worth retrying here.
func Attempt[T any](ctx context.Context, max int, call func(ctx context.Context, prior []error) (T, error), validate func(T) error) (T, error) {
	var zero T
	var failures []error
	for attempt := 0; attempt < max; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := call(ctx, failures)
		if err != nil {
			return zero, err
		}
		if err := validate(out); err != nil {
			failures = append(failures, err)
			continue
		}
		return out, nil
	}
	return zero, &ValidationError{Attempts: max, Failures: failures}
}
