package cset

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// OutOfMemoryHeap is reserved. The Go runtime aborts on allocation failure,
	// but bindings over this library need the code to map their status sets 1:1.
	OutOfMemoryHeap
	// Consistency means a watched key changed between Watch and Stage.
	Consistency
	// OperationNotPermitted means Commit or Rollback was called on a transaction
	// that is not in the staged state, or Stage was called on one that already is.
	OperationNotPermitted
	// WouldBlock means a partitioned operation exhausted its lock or restart budget.
	WouldBlock
	// SequenceNumberOverflow means the store's generation counter saturated.
	SequenceNumberOverflow
)

func (c ErrorCode) String() string {
	switch c {
	case OutOfMemoryHeap:
		return "OutOfMemoryHeap"
	case Consistency:
		return "Consistency"
	case OperationNotPermitted:
		return "OperationNotPermitted"
	case WouldBlock:
		return "WouldBlock"
	case SequenceNumberOverflow:
		return "SequenceNumberOverflow"
	default:
		return "Unknown"
	}
}

// CSET custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("error code: %v, user data: %v", e.Code, e.UserData)
	}
	return fmt.Sprintf("error code: %v, user data: %v, details: %v", e.Code, e.UserData, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError packages an ErrorCode and an underlying cause into a CSET error.
func NewError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the CSET ErrorCode from err, or Unknown if err is not a CSET error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
