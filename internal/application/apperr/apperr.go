// Package apperr holds the error taxonomy shared by the use cases so the
// HTTP layer can map outcomes without knowing every domain sentinel.
package apperr

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks malformed or missing request fields: a caller
// error, never retried, and never preceded by a state mutation.
var ErrInvalidArgument = errors.New("invalid argument")

// InvalidArgumentf builds an ErrInvalidArgument with detail, matchable via
// errors.Is.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
