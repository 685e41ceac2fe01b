package target

import (
	"errors"
	"fmt"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
)

var (
	ErrBreakpointNotExisted = fmt.Errorf("breakpoint not existed: %w", errcode.NotFound)
	ErrThreadNotExisted     = fmt.Errorf("thread not existed: %w", errcode.NotFound)
	ErrProcessGone          = fmt.Errorf("process gone: %w", errcode.ProcessNotFound)
)

// InvariantError reports a broken internal invariant: an event the platform
// table does not know, an event delivered to the wrong thread, a handle
// released twice. It is never recoverable; the session that sees one stops.
type InvariantError struct {
	Pid int
	Tid int
	Msg string
	Err error
}

func (e *InvariantError) Error() string {
	s := fmt.Sprintf("invariant violated (pid %d, tid %d): %s", e.Pid, e.Tid, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// IsInvariant reports whether err carries an *InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
