package db

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
	// ErrUnavailable marks failures of the database itself rather than of
	// the data it holds.
	ErrUnavailable = errors.New("store unavailable")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
