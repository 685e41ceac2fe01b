// Package windows implements the platform contract with the Win32 debugging
// API.
//
// The debug event record and its table are portable so they can be tested
// on any host; the back-end that produces them is in debug_windows.go.
package windows

import (
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

// Debug event codes, DEBUG_EVENT.dwDebugEventCode.
const (
	ExceptionDebugEvent     = 1
	CreateThreadDebugEvent  = 2
	CreateProcessDebugEvent = 3
	ExitThreadDebugEvent    = 4
	ExitProcessDebugEvent   = 5
	LoadDllDebugEvent       = 6
	UnloadDllDebugEvent     = 7
	OutputDebugStringEvent  = 8
	RipEvent                = 9
)

// Exception codes mapped onto signals.
const (
	ExceptionDatatypeMisalignment = 0x80000002
	ExceptionBreakpoint           = 0x80000003
	ExceptionSingleStep           = 0x80000004
	ExceptionAccessViolation      = 0xC0000005
	ExceptionInPageError          = 0xC0000006
	ExceptionIllegalInstruction   = 0xC000001D
	ExceptionFltDivideByZero      = 0xC000008E
	ExceptionIntDivideByZero      = 0xC0000094
	ExceptionIntOverflow          = 0xC0000095
	ExceptionPrivInstruction      = 0xC0000096
	ExceptionStackOverflow        = 0xC00000FD
	ExceptionWx86Breakpoint       = 0x4000001F
	DbgControlC                   = 0x40010005
)

type ExceptionInfo struct {
	Code        uint32
	Address     uint64
	FirstChance bool
}

type CreateInfo struct {
	ThreadHandle platform.Handle
	// FileHandle is the image file of a new process, 0 for threads.
	FileHandle   platform.Handle
	StartAddress uint64
}

type ExitInfo struct {
	ExitCode uint32
}

type LoadDllInfo struct {
	FileHandle platform.Handle
	Base       uint64
}

type UnloadDllInfo struct {
	Base uint64
}

type DebugStringInfo struct {
	Address uint64
	Length  uint16
}

type RipInfo struct {
	Error uint32
	Type  uint32
}

// DebugEvent is a decoded DEBUG_EVENT. Exactly one of the pointer fields is
// set, matching Code.
type DebugEvent struct {
	Code uint32
	Pid  int
	Tid  int

	Exception     *ExceptionInfo
	CreateThread  *CreateInfo
	CreateProcess *CreateInfo
	ExitThread    *ExitInfo
	ExitProcess   *ExitInfo
	LoadDll       *LoadDllInfo
	UnloadDll     *UnloadDllInfo
	DebugString   *DebugStringInfo
	Rip           *RipInfo
}

func (e *DebugEvent) ProcessID() int { return e.Pid }
func (e *DebugEvent) ThreadID() int  { return e.Tid }

// Table is the Windows event table.
type Table struct{}

var _ platform.EventTable = Table{}

func (Table) Lifecycle(ev platform.Event) (platform.Lifecycle, bool) {
	de, ok := ev.(*DebugEvent)
	if !ok {
		return platform.Lifecycle{}, false
	}

	switch de.Code {
	case CreateProcessDebugEvent:
		lc := platform.Lifecycle{Kind: platform.ThreadCreated, Tid: de.Tid, Reporter: de.Tid}
		if de.CreateProcess != nil {
			lc.Handle = de.CreateProcess.ThreadHandle
			if de.CreateProcess.FileHandle != platform.NoHandle {
				lc.Release = []platform.Handle{de.CreateProcess.FileHandle}
			}
		}
		return lc, true
	case CreateThreadDebugEvent:
		lc := platform.Lifecycle{Kind: platform.ThreadCreated, Tid: de.Tid, Reporter: de.Tid}
		if de.CreateThread != nil {
			lc.Handle = de.CreateThread.ThreadHandle
		}
		return lc, true
	case ExitThreadDebugEvent:
		lc := platform.Lifecycle{Kind: platform.ThreadExited, Tid: de.Tid, Reporter: de.Tid}
		if de.ExitThread != nil {
			lc.Status = int(de.ExitThread.ExitCode)
		}
		return lc, true
	case ExitProcessDebugEvent:
		lc := platform.Lifecycle{Kind: platform.ProcessExited, Tid: de.Tid, Reporter: de.Tid}
		if de.ExitProcess != nil {
			lc.Status = int(de.ExitProcess.ExitCode)
		}
		return lc, true
	case RipEvent:
		return platform.Lifecycle{Kind: platform.ProcessTerminated, Tid: de.Tid, Status: platform.SIGKILL}, true
	}
	return platform.Lifecycle{}, false
}

func (Table) Classify(ev platform.Event, _ platform.ClassifyContext) (platform.Classification, error) {
	de, ok := ev.(*DebugEvent)
	if !ok {
		return platform.Classification{}, &platform.UnknownEventError{Platform: "windows", Detail: "foreign event record"}
	}

	switch de.Code {
	case ExceptionDebugEvent:
		trap := platform.Trap{Event: platform.EventTrap, Reason: platform.ReasonNone}
		if de.Exception != nil {
			trap.Code = uint64(de.Exception.Code)
			trap.Address = platform.AddressOf(de.Exception.Address)
			trap.Signal = exceptionSignal(de.Exception.Code)
		} else {
			trap.Signal = platform.SIGTRAP
		}
		return platform.Classification{Trap: trap}, nil

	case LoadDllDebugEvent:
		var c platform.Classification
		if de.LoadDll != nil && de.LoadDll.FileHandle != platform.NoHandle {
			c.Release = []platform.Handle{de.LoadDll.FileHandle}
		}
		return c, nil

	case UnloadDllDebugEvent, OutputDebugStringEvent:
		return platform.Classification{}, nil

	default:
		return platform.Classification{}, &platform.UnknownEventError{Platform: "windows", Code: uint64(de.Code), Detail: "debug event code"}
	}
}

func exceptionSignal(code uint32) int {
	switch code {
	case ExceptionBreakpoint, ExceptionSingleStep, ExceptionWx86Breakpoint:
		return platform.SIGTRAP
	case ExceptionAccessViolation, ExceptionInPageError, ExceptionStackOverflow:
		return platform.SIGSEGV
	case ExceptionIllegalInstruction, ExceptionPrivInstruction:
		return platform.SIGILL
	case ExceptionIntDivideByZero, ExceptionFltDivideByZero, ExceptionIntOverflow:
		return platform.SIGFPE
	case ExceptionDatatypeMisalignment:
		return platform.SIGBUS
	case DbgControlC:
		return platform.SIGINT
	default:
		return platform.SIGTRAP
	}
}
