package engine

import (
	"errors"

	"github.com/roach88/anchor/internal/ir"
)

// IsRejection reports whether err is a precondition failure of a transition
// (as opposed to an I/O or substrate failure).
// Uses errors.As to handle wrapped errors.
func IsRejection(err error) bool {
	var e *ir.Error
	return errors.As(err, &e)
}

// IsNotFound reports whether err means the incident has no record.
func IsNotFound(err error) bool {
	return errors.Is(err, ir.ErrNotFound)
}
