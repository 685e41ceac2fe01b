//go:build linux

package linux

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

// Backend drives one traced process with ptrace.
//
// All ptrace requests of a tracee must come from the same OS thread, so
// every request is funnelled through one goroutine locked to its thread.
//
// issue: https://github.com/golang/go/issues/7699
type Backend struct {
	log *logrus.Entry

	once       sync.Once
	ptraceCh   chan func()
	ptraceDone chan struct{}
	stopCh     chan struct{}

	comm    string
	known   map[int]bool // threads we have seen
	early   map[int]bool // new threads whose initial stop arrived before the clone event
	pending []*WaitEvent // events observed while suspending a thread

	stepping    map[int]bool
	interrupted map[int]bool // SIGSTOP sent by Interrupt, not yet seen
	swallow     map[int]bool // a SIGSTOP still queued for a thread that stopped for another reason

	hw [numDebugSlots]*hwSlot
}

var (
	_ platform.Operations          = (*Backend)(nil)
	_ platform.HardwareBreakpoints = (*Backend)(nil)
	_ platform.ProgramCounter      = (*Backend)(nil)
	_ platform.Launcher            = (*Backend)(nil)
)

// New 创建一个ptrace后端
func New(log *logrus.Entry) *Backend {
	return &Backend{
		log:         log,
		ptraceCh:    make(chan func()),
		ptraceDone:  make(chan struct{}),
		stopCh:      make(chan struct{}),
		known:       map[int]bool{},
		early:       map[int]bool{},
		stepping:    map[int]bool{},
		interrupted: map[int]bool{},
		swallow:     map[int]bool{},
	}
}

// execPtrace runs fn on the tracer thread and waits for it.
func (b *Backend) execPtrace(fn func()) {
	b.once.Do(func() {
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				select {
				case reqFn := <-b.ptraceCh:
					reqFn()
					b.ptraceDone <- struct{}{}
				case <-b.stopCh:
					return
				}
			}
		}()
	})
	b.ptraceCh <- fn
	<-b.ptraceDone
}

// Close stops the tracer goroutine. The backend is unusable afterwards.
func (b *Backend) Close() {
	close(b.stopCh)
}

// Launch starts `cmd` with `args` under ptrace and waits for it to stop at
// its first instruction.
//
// PTRACE_O_TRACECLONE makes every thread created later traced as well; a
// new thread starts with a SIGSTOP.
func (b *Backend) Launch(cmd string, args []string) (int, error) {
	var (
		pid int
		err error
	)
	b.execPtrace(func() {
		progCmd := exec.Command(cmd, args...)
		progCmd.Stdin = os.Stdin
		progCmd.Stdout = os.Stdout
		progCmd.Stderr = os.Stderr
		progCmd.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:     true, // implies PTRACE_TRACEME
			Setpgid:    true,
			Foreground: false,
		}
		progCmd.Env = os.Environ()

		if err = progCmd.Start(); err != nil {
			return
		}
		pid = progCmd.Process.Pid

		var status unix.WaitStatus
		if _, err = unix.Wait4(pid, &status, unix.WALL, nil); err != nil {
			return
		}
		if !status.Stopped() {
			err = fmt.Errorf("process %d did not stop after exec: %#x", pid, uint32(status))
			return
		}
		err = unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACECLONE)
	})
	if err != nil {
		return 0, fmt.Errorf("launch %s: %w", cmd, err)
	}

	b.known[pid] = true
	b.comm, _ = readProcComm(pid)
	b.log.WithField("pid", pid).Infof("process launched: %s", cmd)
	return pid, nil
}

// Attach attaches to every thread of a running process.
func (b *Backend) Attach(pid int) error {
	if !checkPid(pid) {
		return fmt.Errorf("process %d not existed: %w", pid, errcode.ProcessNotFound)
	}

	tids, err := loadThreadList(pid)
	if err != nil {
		return fmt.Errorf("load threads err: %w", err)
	}

	b.execPtrace(func() {
		for _, tid := range tids {
			if err = unix.PtraceAttach(tid); err != nil && err != unix.EPERM {
				// Maybe we have traced tid via PTRACE_O_TRACECLONE already,
				// attaching again fails with EPERM.
				err = fmt.Errorf("attach %d err: %w", tid, err)
				return
			}
			if _, _, err = b.wait(tid, 0); err != nil {
				err = fmt.Errorf("wait %d err: %w", tid, err)
				return
			}
			if err = unix.PtraceSetOptions(tid, unix.PTRACE_O_TRACECLONE); err != nil {
				err = fmt.Errorf("set PTRACE_O_TRACECLONE err: %w", err)
				return
			}
			b.known[tid] = true
		}
	})
	if err != nil {
		return err
	}

	b.comm, _ = readProcComm(pid)
	b.log.WithField("pid", pid).Infof("process attached, %d threads", len(tids))
	return nil
}

func (b *Backend) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		ResumeSignal:     true,
		ResumeAddress:    true,
		SingleStep:       true,
		BreakpointOpcode: breakpointOpcode,
	}
}

func (b *Backend) EventTable() platform.EventTable {
	return Table{}
}

func (b *Backend) Threads(pid int) ([]platform.ThreadRecord, error) {
	tids, err := loadThreadList(pid)
	if err != nil {
		return nil, err
	}
	records := make([]platform.ThreadRecord, 0, len(tids))
	for _, tid := range tids {
		b.known[tid] = true
		records = append(records, platform.ThreadRecord{Tid: tid, Handle: platform.NoHandle})
	}
	return records, nil
}

func (b *Backend) Resume(pid, tid int, req platform.ResumeRequest) error {
	var err error
	b.execPtrace(func() {
		if req.Address.Valid() {
			if err = setPC(tid, req.Address.Value); err != nil {
				return
			}
		}
		if req.Step {
			err = ptraceSingleStep(tid, req.Signal)
		} else {
			err = unix.PtraceCont(tid, req.Signal)
		}
	})
	if err != nil {
		return err
	}
	b.stepping[tid] = req.Step
	return nil
}

func (b *Backend) Suspend(pid, tid int) error {
	var (
		we  *WaitEvent
		err error
	)
	b.execPtrace(func() {
		if err = unix.Tgkill(pid, tid, unix.SIGSTOP); err != nil {
			return
		}
		var status *unix.WaitStatus
		if _, status, err = b.wait(tid, 0); err != nil || status == nil {
			return
		}
		we, err = b.convert(pid, tid, *status)
	})
	if err != nil {
		return err
	}
	if we == nil {
		// thread became a zombie, its exit is reported by the leader
		return nil
	}
	if we.Kind == StatusStopped && we.Signal == platform.SIGSTOP {
		return nil
	}

	// the thread stopped for another reason first, our SIGSTOP is still
	// queued and will show up on the next resume
	if we.Kind == StatusStopped {
		b.swallow[tid] = true
	}
	b.pending = append(b.pending, we)
	return nil
}

func (b *Backend) Interrupt(pid int) error {
	var err error
	b.execPtrace(func() {
		err = unix.Tgkill(pid, pid, unix.SIGSTOP)
	})
	if err != nil {
		return err
	}
	b.interrupted[pid] = true
	return nil
}

func (b *Backend) Wait(pid int) (platform.Event, error) {
	if len(b.pending) > 0 {
		we := b.pending[0]
		b.pending = b.pending[1:]
		return we, nil
	}

	for {
		var (
			we    *WaitEvent
			wpid  int
			retry bool
			err   error
		)
		b.execPtrace(func() {
			var status unix.WaitStatus
			wpid, err = unix.Wait4(-1, &status, unix.WALL|unix.WNOHANG, nil)
			if err != nil || wpid == 0 {
				return
			}

			if status.Stopped() && status.StopSignal() == unix.SIGSTOP {
				if !b.known[wpid] {
					// initial stop of a new thread, reported by its clone event
					b.early[wpid] = true
					retry = true
					return
				}
				if b.swallow[wpid] {
					delete(b.swallow, wpid)
					err = unix.PtraceCont(wpid, 0)
					retry = true
					return
				}
			}
			we, err = b.convert(pid, wpid, status)
		})
		if err != nil {
			return nil, err
		}
		if retry {
			continue
		}
		if wpid == 0 || we == nil {
			return nil, nil
		}
		return we, nil
	}
}

// convert builds a WaitEvent from a wait status. It runs on the tracer
// thread.
func (b *Backend) convert(pid, tid int, status unix.WaitStatus) (*WaitEvent, error) {
	we := &WaitEvent{Pid: pid, Tid: tid}

	switch {
	case status.Exited():
		we.Kind = StatusExited
		we.ExitCode = status.ExitStatus()
		delete(b.known, tid)
		return we, nil
	case status.Signaled():
		we.Kind = StatusSignaled
		we.Signal = int(status.Signal())
		delete(b.known, tid)
		return we, nil
	case status.Stopped():
		we.Kind = StatusStopped
		we.Signal = int(status.StopSignal())
	default:
		return nil, fmt.Errorf("unexpected wait status %#x for thread %d", uint32(status), tid)
	}

	stepping := b.stepping[tid]
	delete(b.stepping, tid)

	if we.Signal == platform.SIGSTOP {
		if b.interrupted[tid] {
			delete(b.interrupted, tid)
			we.Interrupted = true
		}
		return we, nil
	}

	if we.Signal == platform.SIGTRAP {
		we.TrapCause = status.TrapCause()
		if we.TrapCause == eventClone {
			msg, err := unix.PtraceGetEventMsg(tid)
			if err != nil {
				return nil, fmt.Errorf("could not get event message: %w", err)
			}
			we.NewTid = int(msg)
			if !b.early[we.NewTid] {
				if _, _, err := b.wait(we.NewTid, 0); err != nil && err != unix.ECHILD {
					return nil, fmt.Errorf("wait new thread %d: %w", we.NewTid, err)
				}
			}
			delete(b.early, we.NewTid)
			b.known[we.NewTid] = true
			return we, nil
		}
		if we.TrapCause != 0 {
			return we, nil
		}
	}

	si, err := getSiginfo(tid)
	if err != nil {
		return nil, err
	}
	we.SigCode = int(si.Code)

	switch we.Signal {
	case platform.SIGTRAP:
		switch {
		case we.SigCode == trapHwbkpt:
			slot, addr, kind, err := b.firedSlot(tid)
			if err != nil {
				return nil, err
			}
			if slot >= 0 {
				we.Addr = platform.AddressOf(addr)
				we.WatchKind = kind
			}
		case !stepping && (we.SigCode == siKernel || we.SigCode == trapBrkpt):
			pc, err := getPC(tid)
			if err == nil {
				we.Addr = platform.AddressOf(pc - uint64(len(breakpointOpcode)))
			} else if !errors.Is(err, errcode.Unsupported) {
				return nil, err
			}
		}
	case platform.SIGSEGV, platform.SIGBUS, platform.SIGILL, platform.SIGFPE:
		we.Addr = platform.AddressOf(si.Addr)
	}
	return we, nil
}

func (b *Backend) TranslateError(err error) errcode.Code {
	if err == nil {
		return errcode.Success
	}
	var code errcode.Code
	if errors.As(err, &code) {
		return code
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return errcode.Unknown
	}
	switch errno {
	case unix.ESRCH, unix.ECHILD:
		return errcode.ProcessNotFound
	case unix.EPERM, unix.EACCES:
		return errcode.NoPermission
	case unix.EFAULT, unix.EIO:
		return errcode.InvalidAddress
	case unix.EINVAL:
		return errcode.InvalidArgument
	case unix.EBUSY:
		return errcode.Busy
	case unix.ENOMEM:
		return errcode.NoMemory
	case unix.EBADF:
		return errcode.InvalidHandle
	case unix.ENOTSUP:
		return errcode.Unsupported
	default:
		return errcode.Unknown
	}
}

// ReleaseHandle is a no-op, ptrace has no per-thread handles.
func (b *Backend) ReleaseHandle(h platform.Handle) error {
	if h != platform.NoHandle {
		return errcode.InvalidHandle
	}
	return nil
}

func (b *Backend) ProcessInfo(pid int) (platform.ProcessInfo, error) {
	if !checkPid(pid) {
		return platform.ProcessInfo{}, errcode.ProcessNotFound
	}
	comm, err := readProcComm(pid)
	if err != nil {
		return platform.ProcessInfo{}, err
	}
	args, err := readProcCommArgs(pid)
	if err != nil {
		return platform.ProcessInfo{}, err
	}
	return platform.ProcessInfo{
		Pid:     pid,
		Name:    comm,
		Args:    args,
		Arch:    runtime.GOARCH,
		PtrSize: int(unsafe.Sizeof(uintptr(0))),
	}, nil
}

func (b *Backend) ReadMemory(pid int, addr uint64, buf []byte) (int, error) {
	var (
		n   int
		err error
	)
	b.execPtrace(func() {
		// PtracePeekText 与 PtracePeekData 效果相同
		n, err = unix.PtracePeekData(pid, uintptr(addr), buf)
	})
	return n, err
}

func (b *Backend) WriteMemory(pid int, addr uint64, data []byte) (int, error) {
	var (
		n   int
		err error
	)
	b.execPtrace(func() {
		n, err = unix.PtracePokeData(pid, uintptr(addr), data)
	})
	return n, err
}

func (b *Backend) ReadRegisters(pid, tid int) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	b.execPtrace(func() {
		data, err = readRegisters(tid)
	})
	return data, err
}

func (b *Backend) WriteRegisters(pid, tid int, data []byte) error {
	var err error
	b.execPtrace(func() {
		err = writeRegisters(tid, data)
	})
	return err
}

func (b *Backend) SetPC(pid, tid int, pc uint64) error {
	var err error
	b.execPtrace(func() {
		err = setPC(tid, pc)
	})
	return err
}

func (b *Backend) Detach(pid int) error {
	tids, err := loadThreadList(pid)
	if err != nil {
		return err
	}

	var firstErr error
	for _, tid := range tids {
		b.execPtrace(func() {
			err = unix.PtraceDetach(tid)
		})
		if err != nil {
			b.log.WithField("tid", tid).Warnf("thread detached error: %v", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(b.known, tid)
	}
	return firstErr
}

func (b *Backend) Kill(pid int) error {
	var err error
	b.execPtrace(func() {
		if err = unix.Kill(pid, unix.SIGKILL); err != nil {
			return
		}
		// reap every thread so the process does not linger as a zombie
		for {
			var status unix.WaitStatus
			wpid, werr := unix.Wait4(-1, &status, unix.WALL, nil)
			if werr != nil {
				if werr != unix.ECHILD {
					err = werr
				}
				return
			}
			if wpid == pid && (status.Exited() || status.Signaled()) {
				return
			}
		}
	})
	b.known = map[int]bool{}
	b.pending = nil
	return err
}

// wait waits for a state change of thread pid. It runs on the tracer
// thread.
//
// If we call wait4/waitpid on a thread that is the leader of its group,
// with options == 0, while ptracing and the thread leader has exited leaving
// zombies of its own then waitpid hangs forever. Therefore we call wait4 in
// a loop with WNOHANG, and give up once the thread became a zombie.
// References:
// https://sourceware.org/bugzilla/show_bug.cgi?id=12702
// https://sourceware.org/bugzilla/show_bug.cgi?id=10095
func (b *Backend) wait(pid, options int) (int, *unix.WaitStatus, error) {
	var s unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &s, unix.WNOHANG|unix.WALL|options, nil)
		if err != nil {
			return 0, nil, err
		}
		if wpid != 0 {
			return wpid, &s, nil
		}
		if status(pid, b.comm) == statusZombie {
			return pid, nil, nil
		}
		runtime.Gosched()
	}
}

// siginfo mirrors the head of siginfo_t on 64-bit Linux.
type siginfo struct {
	Signo int32
	Errno int32
	Code  int32
	_     int32
	Addr  uint64
	_     [104]byte
}

func getSiginfo(tid int) (siginfo, error) {
	var si siginfo
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(tid), 0, uintptr(unsafe.Pointer(&si)), 0, 0)
	if errno != 0 {
		return si, errno
	}
	return si, nil
}

// ptraceSingleStep is PTRACE_SINGLESTEP with signal delivery, which
// unix.PtraceSingleStep does not offer.
func ptraceSingleStep(tid, sig int) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SINGLESTEP, uintptr(tid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// checkPid check whether pid is a live process.
//
// On Unix systems, os.FindProcess always succeeds and returns a Process for
// the given pid, regardless of whether the process exists.
func checkPid(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
