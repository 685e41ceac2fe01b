// Package platform describes what the debugger core needs from the operating
// system: resuming threads, waiting for debug events, memory and register
// access, and the per-OS table that turns a raw debug event into a
// platform-independent Trap.
//
// Concrete back-ends live in the linux and windows subpackages. The core
// only ever talks to the Operations interface.
package platform

import (
	"fmt"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
)

// Handle is an OS debug handle owned by exactly one Thread. On platforms
// without per-thread handles it is always NoHandle.
type Handle uintptr

const NoHandle Handle = 0

// Address is an optional target address.
type Address struct {
	Value uint64
	Set   bool
}

// AddressOf returns a valid Address holding v.
func AddressOf(v uint64) Address {
	return Address{Value: v, Set: true}
}

func (a Address) Valid() bool {
	return a.Set
}

func (a Address) String() string {
	if !a.Set {
		return "<none>"
	}
	return fmt.Sprintf("%#x", a.Value)
}

// Capabilities lists the optional features of a back-end.
type Capabilities struct {
	ResumeSignal     bool   // resume can deliver a signal
	ResumeAddress    bool   // resume can start at an explicit address
	SingleStep       bool   // hardware single step
	BreakpointOpcode []byte // software breakpoint instruction
}

// ResumeRequest 恢复线程执行的参数
type ResumeRequest struct {
	Step    bool
	Signal  int
	Address Address
}

// ThreadRecord is one thread reported by the initial enumeration.
type ThreadRecord struct {
	Tid    int
	Handle Handle
}

// ProcessInfo is the metadata the platform can report about a debuggee.
type ProcessInfo struct {
	Pid     int
	Name    string
	Args    []string
	Arch    string
	PtrSize int
}

//go:generate mockgen -destination=mockplatform/operations.go -package=mockplatform . Operations

// Operations is the contract between the core and one OS back-end.
//
// Implementations are called from a single goroutine; they never see two
// concurrent calls from the core.
type Operations interface {
	Capabilities() Capabilities
	EventTable() EventTable

	// Threads enumerates the threads of an already stopped process.
	Threads(pid int) ([]ThreadRecord, error)

	// Resume continues or single-steps one thread.
	Resume(pid, tid int, req ResumeRequest) error

	// Suspend stops one running thread and returns once it is stopped. Any
	// other event observed while doing so is kept for the next Wait.
	Suspend(pid, tid int) error

	// Interrupt asks the whole process to stop asynchronously; the stop is
	// reported through Wait.
	Interrupt(pid int) error

	// Wait returns the next raw debug event, or (nil, nil) if none is
	// available yet.
	Wait(pid int) (Event, error)

	// TranslateError turns an error returned by the OS into a Code.
	TranslateError(err error) errcode.Code

	// ReleaseHandle closes a debug handle.
	ReleaseHandle(h Handle) error

	ProcessInfo(pid int) (ProcessInfo, error)

	ReadMemory(pid int, addr uint64, buf []byte) (int, error)
	WriteMemory(pid int, addr uint64, data []byte) (int, error)

	// ReadRegisters returns the register block of a thread in the order
	// the remote protocol expects for this architecture.
	ReadRegisters(pid, tid int) ([]byte, error)
	WriteRegisters(pid, tid int, data []byte) error

	Detach(pid int) error
	Kill(pid int) error
}

// WatchKind selects the access that triggers a hardware slot.
type WatchKind int

const (
	WatchExecute WatchKind = iota
	WatchWrite
	WatchRead
	WatchAccess
)

func (k WatchKind) String() string {
	switch k {
	case WatchExecute:
		return "execute"
	case WatchWrite:
		return "write"
	case WatchRead:
		return "read"
	case WatchAccess:
		return "access"
	default:
		return fmt.Sprintf("WatchKind(%d)", int(k))
	}
}

// HardwareBreakpoints is implemented by back-ends that can program debug
// registers. Back-ends without it do not support Z1-Z4.
type HardwareBreakpoints interface {
	SetHardwareBreakpoint(pid, tid int, addr uint64, size int, kind WatchKind) (slot int, err error)
	ClearHardwareBreakpoint(pid, tid int, slot int) error
}

// ProgramCounter is implemented by back-ends that can move the program
// counter of a stopped thread. It is used to rewind a thread that stopped on
// a software breakpoint so it reports the breakpoint address.
type ProgramCounter interface {
	SetPC(pid, tid int, pc uint64) error
}

// Launcher starts a new debuggee stopped at its first instruction. It is
// used to honour restart requests in extended mode.
type Launcher interface {
	Launch(cmd string, args []string) (pid int, err error)
}
