//go:build windows

package windows

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procWaitForDebugEvent      = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent     = modkernel32.NewProc("ContinueDebugEvent")
	procDebugActiveProcess     = modkernel32.NewProc("DebugActiveProcess")
	procDebugActiveProcessStop = modkernel32.NewProc("DebugActiveProcessStop")
	procDebugBreakProcess      = modkernel32.NewProc("DebugBreakProcess")
)

const (
	dbgContinue          = 0x00010002
	debugOnlyThisProcess = 0x00000002

	errSemTimeout  = windows.Errno(121)
	errPartialCopy = windows.Errno(299)
	errNoAccess    = windows.Errno(998)
)

// debugEvent is DEBUG_EVENT on 64-bit Windows.
type debugEvent struct {
	Code      uint32
	ProcessID uint32
	ThreadID  uint32
	_         uint32
	U         [160]byte
}

type exceptionDebugInfo struct {
	ExceptionCode        uint32
	ExceptionFlags       uint32
	ExceptionRecord      uintptr
	ExceptionAddress     uintptr
	NumberParameters     uint32
	_                    uint32
	ExceptionInformation [15]uintptr
	FirstChance          uint32
}

type createProcessDebugInfo struct {
	File                uintptr
	Process             uintptr
	Thread              uintptr
	BaseOfImage         uintptr
	DebugInfoFileOffset uint32
	DebugInfoSize       uint32
	ThreadLocalBase     uintptr
	StartAddress        uintptr
	ImageName           uintptr
	Unicode             uint16
}

type createThreadDebugInfo struct {
	Thread          uintptr
	ThreadLocalBase uintptr
	StartAddress    uintptr
}

type loadDllDebugInfo struct {
	File                uintptr
	BaseOfDll           uintptr
	DebugInfoFileOffset uint32
	DebugInfoSize       uint32
	ImageName           uintptr
	Unicode             uint16
}

type outputDebugStringInfo struct {
	DebugStringData   uintptr
	Unicode           uint16
	DebugStringLength uint16
}

type ripInfo struct {
	Error uint32
	Type  uint32
}

// Backend drives one debuggee with the Win32 debugging API.
//
// Debug events are delivered to the thread that attached, so every call is
// made from one goroutine locked to its OS thread.
type Backend struct {
	log *logrus.Entry

	once    sync.Once
	reqCh   chan func()
	doneCh  chan struct{}
	stopCh  chan struct{}
	process windows.Handle

	// the thread whose debug event has not been continued yet, 0 if none
	waiting  int
	threads  []platform.ThreadRecord
	pending  []*DebugEvent
	imageExe string
}

var (
	_ platform.Operations = (*Backend)(nil)
	_ platform.Launcher   = (*Backend)(nil)
)

// New 创建一个Windows调试后端
func New(log *logrus.Entry) *Backend {
	return &Backend{
		log:    log,
		reqCh:  make(chan func()),
		doneCh: make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

func (b *Backend) execDebug(fn func()) {
	b.once.Do(func() {
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				select {
				case reqFn := <-b.reqCh:
					reqFn()
					b.doneCh <- struct{}{}
				case <-b.stopCh:
					return
				}
			}
		}()
	})
	b.reqCh <- fn
	<-b.doneCh
}

// Close stops the debugger thread and closes the process handle.
func (b *Backend) Close() {
	if b.process != 0 {
		windows.CloseHandle(b.process)
		b.process = 0
	}
	close(b.stopCh)
}

// Launch creates `cmd` as a debuggee and waits for its initial breakpoint.
func (b *Backend) Launch(cmd string, args []string) (int, error) {
	var (
		pid int
		err error
	)
	b.execDebug(func() {
		var cmdline *uint16
		cmdline, err = windows.UTF16PtrFromString(windows.ComposeCommandLine(append([]string{cmd}, args...)))
		if err != nil {
			return
		}
		var (
			si windows.StartupInfo
			pi windows.ProcessInformation
		)
		si.Cb = uint32(unsafe.Sizeof(si))
		if err = windows.CreateProcess(nil, cmdline, nil, nil, false, debugOnlyThisProcess, nil, nil, &si, &pi); err != nil {
			return
		}
		windows.CloseHandle(pi.Thread)
		b.process = pi.Process
		pid = int(pi.ProcessId)
		err = b.bootstrap(pid)
	})
	if err != nil {
		return 0, fmt.Errorf("launch %s: %w", cmd, err)
	}
	b.imageExe = cmd
	b.log.WithField("pid", pid).Infof("process launched: %s", cmd)
	return pid, nil
}

// Attach starts debugging a running process and waits for the breakpoint the
// system injects after attaching.
func (b *Backend) Attach(pid int) error {
	var err error
	b.execDebug(func() {
		b.process, err = windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(pid))
		if err != nil {
			return
		}
		if r, _, e := procDebugActiveProcess.Call(uintptr(pid)); r == 0 {
			err = e
			return
		}
		err = b.bootstrap(pid)
	})
	if err != nil {
		return fmt.Errorf("attach %d: %w", pid, err)
	}
	b.log.WithField("pid", pid).Infof("process attached, %d threads", len(b.threads))
	return nil
}

// bootstrap consumes the creation events that precede the initial
// breakpoint, recording the threads they announce. It runs on the debugger
// thread.
func (b *Backend) bootstrap(pid int) error {
	for {
		de, err := b.waitEvent(windows.INFINITE)
		if err != nil {
			return err
		}
		switch de.Code {
		case CreateProcessDebugEvent:
			if de.CreateProcess.FileHandle != platform.NoHandle {
				windows.CloseHandle(windows.Handle(de.CreateProcess.FileHandle))
			}
			b.threads = append(b.threads, platform.ThreadRecord{Tid: de.Tid, Handle: de.CreateProcess.ThreadHandle})
		case CreateThreadDebugEvent:
			b.threads = append(b.threads, platform.ThreadRecord{Tid: de.Tid, Handle: de.CreateThread.ThreadHandle})
		case LoadDllDebugEvent:
			if de.LoadDll.FileHandle != platform.NoHandle {
				windows.CloseHandle(windows.Handle(de.LoadDll.FileHandle))
			}
		case ExceptionDebugEvent:
			if de.Exception.Code == ExceptionBreakpoint {
				// left pending, the first resume continues it
				b.waiting = de.Tid
				return nil
			}
		case ExitProcessDebugEvent:
			return fmt.Errorf("process %d exited during startup: %w", pid, errcode.ProcessNotFound)
		}
		if r, _, e := procContinueDebugEvent.Call(uintptr(de.Pid), uintptr(de.Tid), dbgContinue); r == 0 {
			return e
		}
	}
}

// waitEvent runs on the debugger thread.
func (b *Backend) waitEvent(timeout uint32) (*DebugEvent, error) {
	var raw debugEvent
	r, _, e := procWaitForDebugEvent.Call(uintptr(unsafe.Pointer(&raw)), uintptr(timeout))
	if r == 0 {
		if errors.Is(e, errSemTimeout) {
			return nil, nil
		}
		return nil, e
	}
	return decode(&raw), nil
}

func decode(raw *debugEvent) *DebugEvent {
	de := &DebugEvent{Code: raw.Code, Pid: int(raw.ProcessID), Tid: int(raw.ThreadID)}
	u := unsafe.Pointer(&raw.U[0])

	switch raw.Code {
	case ExceptionDebugEvent:
		info := (*exceptionDebugInfo)(u)
		de.Exception = &ExceptionInfo{
			Code:        info.ExceptionCode,
			Address:     uint64(info.ExceptionAddress),
			FirstChance: info.FirstChance != 0,
		}
	case CreateProcessDebugEvent:
		info := (*createProcessDebugInfo)(u)
		de.CreateProcess = &CreateInfo{
			ThreadHandle: platform.Handle(info.Thread),
			FileHandle:   platform.Handle(info.File),
			StartAddress: uint64(info.StartAddress),
		}
	case CreateThreadDebugEvent:
		info := (*createThreadDebugInfo)(u)
		de.CreateThread = &CreateInfo{
			ThreadHandle: platform.Handle(info.Thread),
			StartAddress: uint64(info.StartAddress),
		}
	case ExitThreadDebugEvent:
		de.ExitThread = &ExitInfo{ExitCode: *(*uint32)(u)}
	case ExitProcessDebugEvent:
		de.ExitProcess = &ExitInfo{ExitCode: *(*uint32)(u)}
	case LoadDllDebugEvent:
		info := (*loadDllDebugInfo)(u)
		de.LoadDll = &LoadDllInfo{FileHandle: platform.Handle(info.File), Base: uint64(info.BaseOfDll)}
	case UnloadDllDebugEvent:
		de.UnloadDll = &UnloadDllInfo{Base: uint64(*(*uintptr)(u))}
	case OutputDebugStringEvent:
		info := (*outputDebugStringInfo)(u)
		de.DebugString = &DebugStringInfo{Address: uint64(info.DebugStringData), Length: info.DebugStringLength}
	case RipEvent:
		info := (*ripInfo)(u)
		de.Rip = &RipInfo{Error: info.Error, Type: info.Type}
	}
	return de
}

func (b *Backend) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		SingleStep:       false,
		BreakpointOpcode: []byte{0xCC},
	}
}

func (b *Backend) EventTable() platform.EventTable {
	return Table{}
}

// Threads returns the threads announced while attaching.
func (b *Backend) Threads(pid int) ([]platform.ThreadRecord, error) {
	records := b.threads
	b.threads = nil
	return records, nil
}

// Resume continues the last debug event if it belongs to tid. All threads of
// the process are stopped while an event is pending, so resuming any other
// thread has nothing to do.
func (b *Backend) Resume(pid, tid int, req platform.ResumeRequest) error {
	if req.Signal != 0 || req.Address.Valid() || req.Step {
		return errcode.Unsupported
	}
	if b.waiting != tid {
		return nil
	}
	var err error
	b.execDebug(func() {
		if r, _, e := procContinueDebugEvent.Call(uintptr(pid), uintptr(tid), dbgContinue); r == 0 {
			err = e
		}
	})
	if err != nil {
		return err
	}
	b.waiting = 0
	return nil
}

// Suspend is a no-op, a debug event already stops every thread.
func (b *Backend) Suspend(pid, tid int) error {
	return nil
}

func (b *Backend) Interrupt(pid int) error {
	var err error
	b.execDebug(func() {
		if r, _, e := procDebugBreakProcess.Call(uintptr(b.process)); r == 0 {
			err = e
		}
	})
	return err
}

func (b *Backend) Wait(pid int) (platform.Event, error) {
	if len(b.pending) > 0 {
		de := b.pending[0]
		b.pending = b.pending[1:]
		return de, nil
	}

	var (
		de  *DebugEvent
		err error
	)
	b.execDebug(func() {
		de, err = b.waitEvent(0)
	})
	if err != nil || de == nil {
		return nil, err
	}
	b.waiting = de.Tid
	return de, nil
}

func (b *Backend) TranslateError(err error) errcode.Code {
	if err == nil {
		return errcode.Success
	}
	var code errcode.Code
	if errors.As(err, &code) {
		return code
	}
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return errcode.Unknown
	}
	switch errno {
	case windows.ERROR_ACCESS_DENIED:
		return errcode.NoPermission
	case windows.ERROR_INVALID_HANDLE:
		return errcode.InvalidHandle
	case windows.ERROR_INVALID_PARAMETER:
		return errcode.InvalidArgument
	case windows.ERROR_NOT_FOUND, windows.ERROR_FILE_NOT_FOUND:
		return errcode.NotFound
	case windows.ERROR_NOT_SUPPORTED:
		return errcode.Unsupported
	case windows.ERROR_NOT_ENOUGH_MEMORY:
		return errcode.NoMemory
	case errPartialCopy, errNoAccess:
		return errcode.InvalidAddress
	default:
		return errcode.Unknown
	}
}

func (b *Backend) ReleaseHandle(h platform.Handle) error {
	if h == platform.NoHandle {
		return nil
	}
	return windows.CloseHandle(windows.Handle(h))
}

func (b *Backend) ProcessInfo(pid int) (platform.ProcessInfo, error) {
	if b.process == 0 {
		return platform.ProcessInfo{}, errcode.InvalidHandle
	}
	var exitCode uint32
	if err := windows.GetExitCodeProcess(b.process, &exitCode); err != nil {
		return platform.ProcessInfo{}, err
	}

	name := b.imageExe
	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(b.process, 0, &buf[0], &size); err == nil {
		name = windows.UTF16ToString(buf[:size])
	}
	return platform.ProcessInfo{
		Pid:     pid,
		Name:    filepath.Base(name),
		Arch:    runtime.GOARCH,
		PtrSize: int(unsafe.Sizeof(uintptr(0))),
	}, nil
}

func (b *Backend) ReadMemory(pid int, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var n uintptr
	err := windows.ReadProcessMemory(b.process, uintptr(addr), &buf[0], uintptr(len(buf)), &n)
	return int(n), err
}

func (b *Backend) WriteMemory(pid int, addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	var n uintptr
	err := windows.WriteProcessMemory(b.process, uintptr(addr), &data[0], uintptr(len(data)), &n)
	return int(n), err
}

// TODO: read the register block with GetThreadContext.
func (b *Backend) ReadRegisters(pid, tid int) ([]byte, error) {
	return nil, errcode.Unsupported
}

func (b *Backend) WriteRegisters(pid, tid int, data []byte) error {
	return errcode.Unsupported
}

func (b *Backend) Detach(pid int) error {
	var err error
	b.execDebug(func() {
		if b.waiting != 0 {
			procContinueDebugEvent.Call(uintptr(pid), uintptr(b.waiting), dbgContinue)
			b.waiting = 0
		}
		if r, _, e := procDebugActiveProcessStop.Call(uintptr(pid)); r == 0 {
			err = e
		}
	})
	return err
}

func (b *Backend) Kill(pid int) error {
	var err error
	b.execDebug(func() {
		if err = windows.TerminateProcess(b.process, 1); err != nil {
			return
		}
		// drain until the exit event so the process is fully gone
		for {
			if b.waiting != 0 {
				procContinueDebugEvent.Call(uintptr(pid), uintptr(b.waiting), dbgContinue)
				b.waiting = 0
			}
			de, werr := b.waitEvent(windows.INFINITE)
			if werr != nil {
				err = werr
				return
			}
			b.waiting = de.Tid
			if de.Code == ExitProcessDebugEvent {
				procContinueDebugEvent.Call(uintptr(pid), uintptr(de.Tid), dbgContinue)
				b.waiting = 0
				return
			}
		}
	})
	b.pending = nil
	return err
}
