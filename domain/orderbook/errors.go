package orderbook

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("invalid order")
	ErrNotFound   = errors.New("order not found")
)

// InvariantError is raised with panic when the book detects internal
// corruption. It is never returned.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "orderbook invariant violated: " + e.Msg }

func invariant(ok bool, format string, args ...any) {
	if !ok {
		panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(id uint64) error {
	return fmt.Errorf("%w: %d", ErrNotFound, id)
}
