package at

import (
	"errors"
	"fmt"
)

// ErrIdle is returned by Framer.ReadLine when no complete line arrived within
// the line timeout. It is not a failure: the caller simply polls again.
var ErrIdle = errors.New("at: no line within timeout")

// ProtocolError reports a modem line that does not have the structure its
// command family requires, such as a missing ':' or too few fields.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("at: malformed response %q: %s", e.Line, e.Reason)
}

// ResultCodeError reports a well-formed response whose embedded result code
// is not the success value 0.
type ResultCodeError struct {
	Op   string
	Code int
}

func (e *ResultCodeError) Error() string {
	return fmt.Sprintf("%s failed: result code %d", e.Op, e.Code)
}
