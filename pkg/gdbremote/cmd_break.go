package gdbremote

import (
	"bytes"
	"fmt"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

func init() {
	register("Z", cmdInsertBreakpoint)
	register("z", cmdRemoveBreakpoint)
}

// parseBreakpoint parses "type,addr,kind". Conditions and commands that may
// follow after ';' are ignored.
func parseBreakpoint(args []byte) (target.BreakpointKind, uint64, int, error) {
	args, _, _ = bytes.Cut(args, []byte{';'})
	fields := bytes.Split(args, []byte{','})
	if len(fields) != 3 || len(fields[0]) != 1 {
		return 0, 0, 0, fmt.Errorf("breakpoint %q: %w", args, errcode.InvalidArgument)
	}

	typ := fields[0][0] - '0'
	if typ > byte(target.AccessWatchpoint) {
		return 0, 0, 0, fmt.Errorf("breakpoint type %c: %w", fields[0][0], errcode.Unsupported)
	}
	addr, err := parseUint(fields[1])
	if err != nil {
		return 0, 0, 0, err
	}
	size, err := parseUint(fields[2])
	if err != nil {
		return 0, 0, 0, err
	}
	return target.BreakpointKind(typ), addr, int(size), nil
}

func cmdInsertBreakpoint(s *Session, args []byte) ([]byte, error) {
	kind, addr, size, err := parseBreakpoint(args)
	if err == nil {
		_, err = s.proc.AddBreakpoint(kind, addr, size)
	}
	return breakpointReply(err)
}

func cmdRemoveBreakpoint(s *Session, args []byte) ([]byte, error) {
	kind, addr, _, err := parseBreakpoint(args)
	if err == nil {
		_, err = s.proc.ClearBreakpoint(kind, addr)
	}
	return breakpointReply(err)
}

// breakpointReply answers an unsupported breakpoint kind with the empty
// reply, the client then falls back to another kind.
func breakpointReply(err error) ([]byte, error) {
	switch {
	case err == nil:
		return replyOK, nil
	case errcode.Of(err) == errcode.Unsupported:
		return nil, nil
	default:
		return nil, err
	}
}
