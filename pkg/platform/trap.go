package platform

import (
	"fmt"
	"strings"
)

// EventKind is the canonical reason class of a thread stop.
type EventKind int

const (
	EventNone EventKind = iota
	EventTrap
	EventCrash
	EventBreakpoint
	EventWatchpoint
	EventStep
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventTrap:
		return "trap"
	case EventCrash:
		return "crash"
	case EventBreakpoint:
		return "breakpoint"
	case EventWatchpoint:
		return "watchpoint"
	case EventStep:
		return "step"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Reason refines an EventKind. The protocol layer only interprets the
// values declared here.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonExec
	ReasonHardware
	ReasonWriteWatch
	ReasonReadWatch
	ReasonAccessWatch
	ReasonInterrupt
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonExec:
		return "exec"
	case ReasonHardware:
		return "hardware"
	case ReasonWriteWatch:
		return "write-watch"
	case ReasonReadWatch:
		return "read-watch"
	case ReasonAccessWatch:
		return "access-watch"
	case ReasonInterrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Trap 线程停止原因的规范描述
type Trap struct {
	Event  EventKind
	Reason Reason

	// Signal is the POSIX signal number (Linux numbering), 0 if none.
	Signal int

	// Code is a platform exception code, 0 if none.
	Code uint64

	// Address is the faulting, breakpoint or watched address.
	Address Address
}

func (t Trap) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{%s, %s", t.Event, t.Reason)
	if t.Signal != 0 {
		fmt.Fprintf(&b, ", signal %d", t.Signal)
	}
	if t.Code != 0 {
		fmt.Fprintf(&b, ", code %#x", t.Code)
	}
	if t.Address.Valid() {
		fmt.Fprintf(&b, ", addr %s", t.Address)
	}
	b.WriteString("}")
	return b.String()
}

// Canonical signal numbers. Platforms without signals map their exceptions
// onto these.
const (
	SIGHUP  = 1
	SIGINT  = 2
	SIGQUIT = 3
	SIGILL  = 4
	SIGTRAP = 5
	SIGABRT = 6
	SIGBUS  = 7
	SIGFPE  = 8
	SIGKILL = 9
	SIGUSR1 = 10
	SIGSEGV = 11
	SIGUSR2 = 12
	SIGPIPE = 13
	SIGALRM = 14
	SIGTERM = 15
	SIGCHLD = 17
	SIGCONT = 18
	SIGSTOP = 19
	SIGTSTP = 20
)
