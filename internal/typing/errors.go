package typing

import (
	"errors"
	"fmt"

	"dfapi/internal/dtype"
)

// ErrColumnCoercion is the sentinel matched by errors.Is for any whole-column
// cast failure reported by Apply.
var ErrColumnCoercion = errors.New("typing: column coercion failed")

// CoercionError describes the first cell that prevented a column from being
// cast to its stored tag.
type CoercionError struct {
	Column string
	Tag    dtype.Tag
	Row    int // 0-based
	Value  any
	Reason string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("typing: column %q cannot be coerced to %s: row %d value %q: %s",
		e.Column, e.Tag, e.Row, fmt.Sprint(e.Value), e.Reason)
}

// Unwrap makes errors.Is(err, ErrColumnCoercion) hold.
func (e *CoercionError) Unwrap() error { return ErrColumnCoercion }
