package setop

import (
	"errors"
	"fmt"
)

// InvalidJoinError is returned by New when the join selection is malformed:
// both on and ignoring are non-empty, or on names the reserved label
// "__name__".
type InvalidJoinError struct {
	Reason string
}

func (e *InvalidJoinError) Error() string {
	return fmt.Sprintf("setop: invalid join: %s", e.Reason)
}

// IsInvalidJoin reports whether err is an *InvalidJoinError.
func IsInvalidJoin(err error) bool {
	var target *InvalidJoinError
	return errors.As(err, &target)
}

// InsufficientResponsesError is returned by Compose when fewer than
// len(lhs)+len(rhs) child responses were obtained.
type InsufficientResponsesError struct {
	Want int
	Got  int
}

func (e *InsufficientResponsesError) Error() string {
	return fmt.Sprintf("setop: insufficient responses: want %d, got %d", e.Want, e.Got)
}

// IsInsufficientResponses reports whether err is an
// *InsufficientResponsesError.
func IsInsufficientResponses(err error) bool {
	var target *InsufficientResponsesError
	return errors.As(err, &target)
}

// ChildQueryError wraps a QueryError propagated unchanged from one of the
// node's child plans.
type ChildQueryError struct {
	Side  string // "lhs" or "rhs"
	Index int
	Err   error
}

func (e *ChildQueryError) Error() string {
	return fmt.Sprintf("setop: child query error (%s[%d]): %s", e.Side, e.Index, e.Err)
}

func (e *ChildQueryError) Unwrap() error { return e.Err }

// IsChildQueryError reports whether err is a *ChildQueryError.
func IsChildQueryError(err error) bool {
	var target *ChildQueryError
	return errors.As(err, &target)
}

// BadQueryError is a user-visible misuse signalled during query execution.
type BadQueryError struct {
	Message string
}

func (e *BadQueryError) Error() string {
	return fmt.Sprintf("setop: bad query: %s", e.Message)
}

// IsBadQuery reports whether err is a *BadQueryError.
func IsBadQuery(err error) bool {
	var target *BadQueryError
	return errors.As(err, &target)
}
