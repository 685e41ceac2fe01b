// Package linux implements the platform contract with ptrace(2).
//
// events.go holds the wait-status event record and its classification
// table. It has no build constraint so the table can be tested anywhere;
// the ptrace back-end itself is in ptrace_linux.go.
package linux

import (
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

// StatusKind is the shape of a wait(2) status.
type StatusKind int

const (
	StatusStopped StatusKind = iota + 1
	StatusExited
	StatusSignaled
)

// ptrace event causes, see PTRACE_EVENT_* in ptrace(2).
const (
	eventClone = 3
	eventExec  = 4
)

// siginfo si_code values for SIGTRAP.
const (
	siUser     = 0
	siKernel   = 0x80
	siTkill    = -6
	trapBrkpt  = 1
	trapTrace  = 2
	trapBranch = 3
	trapHwbkpt = 4
)

// WaitEvent 一次wait4返回的线程状态变化
type WaitEvent struct {
	Pid  int
	Tid  int
	Kind StatusKind

	// Signal is the stop signal, or the terminating signal.
	Signal   int
	ExitCode int

	// TrapCause is the PTRACE_EVENT_* value of a SIGTRAP stop, 0 if none.
	TrapCause int

	// SigCode and Addr come from PTRACE_GETSIGINFO. For software
	// breakpoints Addr is the breakpoint address; the PC still points past
	// the breakpoint instruction.
	SigCode int
	Addr    platform.Address

	// NewTid is the thread created by a clone event.
	NewTid int

	// Interrupted is set for the SIGSTOP the back-end sent to answer a
	// client interrupt. The SIGSTOPs of Suspend never get here.
	Interrupted bool

	// WatchKind is the kind of the hardware slot that fired.
	WatchKind platform.WatchKind
}

func (e *WaitEvent) ProcessID() int { return e.Pid }
func (e *WaitEvent) ThreadID() int  { return e.Tid }

// Table is the Linux event table.
type Table struct{}

var _ platform.EventTable = Table{}

func (Table) Lifecycle(ev platform.Event) (platform.Lifecycle, bool) {
	we, ok := ev.(*WaitEvent)
	if !ok {
		return platform.Lifecycle{}, false
	}

	switch we.Kind {
	case StatusExited:
		if we.Tid == we.Pid {
			return platform.Lifecycle{Kind: platform.ProcessExited, Tid: we.Tid, Status: we.ExitCode}, true
		}
		return platform.Lifecycle{Kind: platform.ThreadExited, Tid: we.Tid, Status: we.ExitCode}, true
	case StatusSignaled:
		if we.Tid == we.Pid {
			return platform.Lifecycle{Kind: platform.ProcessTerminated, Tid: we.Tid, Status: we.Signal}, true
		}
		return platform.Lifecycle{Kind: platform.ThreadExited, Tid: we.Tid, Status: we.Signal}, true
	case StatusStopped:
		if we.Signal == platform.SIGTRAP && we.TrapCause == eventClone {
			return platform.Lifecycle{
				Kind:     platform.ThreadCreated,
				Tid:      we.NewTid,
				Handle:   platform.NoHandle,
				Reporter: we.Tid,
			}, true
		}
	}
	return platform.Lifecycle{}, false
}

func (Table) Classify(ev platform.Event, ctx platform.ClassifyContext) (platform.Classification, error) {
	we, ok := ev.(*WaitEvent)
	if !ok {
		return platform.Classification{}, &platform.UnknownEventError{Platform: "linux", Detail: "foreign event record"}
	}
	if we.Kind != StatusStopped {
		return platform.Classification{}, &platform.UnknownEventError{Platform: "linux", Code: uint64(we.Kind), Detail: "not a stop status"}
	}

	trap, err := classifyStop(we, ctx)
	if err != nil {
		return platform.Classification{}, err
	}
	return platform.Classification{Trap: trap}, nil
}

func classifyStop(we *WaitEvent, ctx platform.ClassifyContext) (platform.Trap, error) {
	if we.Signal <= 0 || we.Signal > 64 {
		return platform.Trap{}, &platform.UnknownEventError{Platform: "linux", Code: uint64(we.Signal), Detail: "signal out of range"}
	}

	switch we.Signal {
	case platform.SIGTRAP:
		return classifyTrap(we, ctx)

	case platform.SIGSTOP:
		if we.Interrupted {
			return platform.Trap{Event: platform.EventTrap, Reason: platform.ReasonInterrupt, Signal: platform.SIGINT}, nil
		}
		return platform.Trap{Event: platform.EventTrap, Signal: platform.SIGSTOP}, nil

	case platform.SIGSEGV, platform.SIGBUS, platform.SIGILL, platform.SIGFPE:
		return platform.Trap{Event: platform.EventCrash, Signal: we.Signal, Address: we.Addr}, nil

	default:
		return platform.Trap{Event: platform.EventTrap, Signal: we.Signal}, nil
	}
}

func classifyTrap(we *WaitEvent, ctx platform.ClassifyContext) (platform.Trap, error) {
	switch we.TrapCause {
	case 0:
	case eventExec:
		return platform.Trap{Event: platform.EventTrap, Reason: platform.ReasonExec, Signal: platform.SIGTRAP}, nil
	default:
		return platform.Trap{}, &platform.UnknownEventError{Platform: "linux", Code: uint64(we.TrapCause), Detail: "ptrace event"}
	}

	switch {
	case we.SigCode == trapHwbkpt:
		switch we.WatchKind {
		case platform.WatchExecute:
			return platform.Trap{Event: platform.EventBreakpoint, Reason: platform.ReasonHardware, Signal: platform.SIGTRAP, Address: we.Addr}, nil
		case platform.WatchWrite:
			return platform.Trap{Event: platform.EventWatchpoint, Reason: platform.ReasonWriteWatch, Signal: platform.SIGTRAP, Address: we.Addr}, nil
		case platform.WatchRead:
			return platform.Trap{Event: platform.EventWatchpoint, Reason: platform.ReasonReadWatch, Signal: platform.SIGTRAP, Address: we.Addr}, nil
		default:
			return platform.Trap{Event: platform.EventWatchpoint, Reason: platform.ReasonAccessWatch, Signal: platform.SIGTRAP, Address: we.Addr}, nil
		}
	case ctx.Stepping, we.SigCode == trapTrace, we.SigCode == trapBranch:
		return platform.Trap{Event: platform.EventStep, Signal: platform.SIGTRAP}, nil
	case we.SigCode == siKernel, we.SigCode == trapBrkpt:
		return platform.Trap{Event: platform.EventBreakpoint, Signal: platform.SIGTRAP, Address: we.Addr}, nil
	case we.SigCode == siUser, we.SigCode == siTkill:
		return platform.Trap{Event: platform.EventTrap, Signal: platform.SIGTRAP}, nil
	default:
		return platform.Trap{}, &platform.UnknownEventError{Platform: "linux", Code: uint64(uint32(int32(we.SigCode))), Detail: "SIGTRAP si_code"}
	}
}
