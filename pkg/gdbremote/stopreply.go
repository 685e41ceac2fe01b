package gdbremote

import (
	"fmt"
	"strings"

	"github.com/hitzhangjie/dbgstub/pkg/platform"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

// stopReply encodes an outcome. Exits become Wxx carrying the whole exit
// code, which is 32 bits wide on Windows; terminations become Xxx. A stop
// of the only thread that carries nothing but a signal becomes Sxx; any
// other stop becomes Txx with the thread and the pairs derived from its
// trap.
func (s *Session) stopReply(out target.Outcome) []byte {
	switch out.Kind {
	case target.OutcomeProcessExited:
		return fmt.Appendf(nil, "W%02x", uint32(out.Status))
	case target.OutcomeProcessTerminated:
		return fmt.Appendf(nil, "X%02x", gdbSignal(out.Status)&0xff)
	}

	trap := out.Trap
	sig := 0
	if trap.Event != platform.EventNone {
		sig = trap.Signal
		if sig == 0 {
			sig = platform.SIGTRAP
		}
	}
	sig = gdbSignal(sig) & 0xff

	pairs := trapPairs(trap)
	threads := s.proc.Threads()
	if pairs == "" && len(threads) <= 1 && !s.listThreads {
		return fmt.Appendf(nil, "S%02x", sig)
	}

	b := fmt.Appendf(nil, "T%02xthread:%s;%s", sig, formatThreadID(out.Tid), pairs)
	if s.listThreads {
		ids := make([]string, 0, len(threads))
		for _, t := range threads {
			ids = append(ids, formatThreadID(t.Tid))
		}
		b = fmt.Appendf(b, "threads:%s;", strings.Join(ids, ","))
	}
	return b
}

// trapPairs derives the stop reason pairs of a T reply.
func trapPairs(trap platform.Trap) string {
	switch trap.Event {
	case platform.EventBreakpoint:
		if trap.Reason == platform.ReasonHardware {
			return "hwbreak:;"
		}
		return "swbreak:;"

	case platform.EventWatchpoint:
		name := "awatch"
		switch trap.Reason {
		case platform.ReasonWriteWatch:
			name = "watch"
		case platform.ReasonReadWatch:
			name = "rwatch"
		}
		return fmt.Sprintf("%s:%x;", name, trap.Address.Value)

	case platform.EventStep:
		return "reason:trace;"

	case platform.EventCrash:
		if trap.Address.Valid() {
			return fmt.Sprintf("reason:exception;addr:%x;", trap.Address.Value)
		}
		return "reason:exception;"

	case platform.EventTrap:
		if trap.Reason == platform.ReasonExec {
			return "reason:exec;"
		}
	}
	return ""
}
