package target

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

// ThreadState 线程执行状态
type ThreadState int

const (
	ThreadRunning ThreadState = iota + 1
	ThreadStopped
	ThreadStepped
	ThreadTerminated
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "running"
	case ThreadStopped:
		return "stopped"
	case ThreadStepped:
		return "stepped"
	case ThreadTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("ThreadState(%d)", int(s))
	}
}

// Thread 线程信息
//
// A Thread owns its debug handle and releases it exactly once, either when
// its exit is observed or when the process is torn down.
type Thread struct {
	Pid int
	Tid int

	proc  *Process
	ops   platform.Operations
	table platform.EventTable
	log   *logrus.Entry

	state    ThreadState
	trap     platform.Trap
	stepping bool

	handle   platform.Handle
	released *atomic.Bool

	regs []byte // register cache, valid while stopped
}

// newThread creates a thread observed by enumeration or a creation event.
// It starts Stopped and is only run by an explicit resume.
func newThread(p *Process, tid int, handle platform.Handle) *Thread {
	return &Thread{
		Pid:      p.pid,
		Tid:      tid,
		proc:     p,
		ops:      p.ops,
		table:    p.table,
		log:      p.log.WithField("tid", tid),
		state:    ThreadStopped,
		handle:   handle,
		released: atomic.NewBool(false),
	}
}

func (t *Thread) State() ThreadState {
	return t.state
}

func (t *Thread) Handle() platform.Handle {
	return t.handle
}

// Stopped reports whether the thread is Stopped or Stepped.
func (t *Thread) Stopped() bool {
	return t.state == ThreadStopped || t.state == ThreadStepped
}

// Trap returns why the thread stopped. It fails while the thread runs.
func (t *Thread) Trap() (platform.Trap, error) {
	switch t.state {
	case ThreadRunning:
		return platform.Trap{}, errcode.Busy
	case ThreadTerminated:
		return platform.Trap{}, errcode.ProcessNotFound
	}
	return t.trap, nil
}

// Resume continues the thread, optionally delivering sig and starting at
// addr. A zero sig and an unset addr mean no override.
func (t *Thread) Resume(sig int, addr platform.Address) error {
	return t.resume(false, sig, addr)
}

// Step single-steps the thread.
func (t *Thread) Step(sig int, addr platform.Address) error {
	return t.resume(true, sig, addr)
}

func (t *Thread) resume(step bool, sig int, addr platform.Address) error {
	switch t.state {
	case ThreadTerminated:
		return errcode.ProcessNotFound
	case ThreadRunning:
		return errcode.Busy
	}

	caps := t.ops.Capabilities()
	if sig != 0 && !caps.ResumeSignal {
		return fmt.Errorf("resume with signal %d: %w", sig, errcode.Unsupported)
	}
	if addr.Valid() && !caps.ResumeAddress {
		return fmt.Errorf("resume at %s: %w", addr, errcode.Unsupported)
	}
	if step && !caps.SingleStep {
		return fmt.Errorf("single step: %w", errcode.Unsupported)
	}

	if _, err := t.proc.GetInfo(); err != nil {
		return err
	}

	req := platform.ResumeRequest{Step: step, Signal: sig, Address: addr}
	if err := t.ops.Resume(t.Pid, t.Tid, req); err != nil {
		code := t.ops.TranslateError(err)
		t.log.Debugf("resume failed: %v", err)
		return fmt.Errorf("resume thread %d: %w", t.Tid, code)
	}

	t.state = ThreadRunning
	t.stepping = step
	t.trap = platform.Trap{}
	t.regs = nil
	return nil
}

// Classify consumes one raw stop event addressed to this thread.
func (t *Thread) Classify(ev platform.Event) error {
	if ev.ThreadID() != t.Tid {
		return &InvariantError{Pid: t.Pid, Tid: t.Tid, Msg: fmt.Sprintf("event for thread %d delivered to thread %d", ev.ThreadID(), t.Tid)}
	}
	if t.state == ThreadTerminated {
		return &InvariantError{Pid: t.Pid, Tid: t.Tid, Msg: "event for terminated thread"}
	}

	c, err := t.table.Classify(ev, platform.ClassifyContext{Stepping: t.stepping})
	if err != nil {
		return &InvariantError{Pid: t.Pid, Tid: t.Tid, Msg: "cannot classify event", Err: err}
	}

	for _, h := range c.Release {
		if err := t.ops.ReleaseHandle(h); err != nil {
			t.log.Warnf("release transient handle %#x: %v", uintptr(h), err)
		}
	}

	t.trap = c.Trap
	t.stepping = false
	t.regs = nil
	if c.Trap.Event == platform.EventStep {
		t.state = ThreadStepped
	} else {
		t.state = ThreadStopped
	}
	t.log.Debugf("thread stopped: %s", c.Trap)
	return nil
}

// park marks a thread stopped without an event of its own, e.g. after it
// has been suspended.
func (t *Thread) park() {
	if t.state != ThreadRunning {
		return
	}
	t.state = ThreadStopped
	t.stepping = false
	t.trap = platform.Trap{}
}

// Registers returns the register block, cached until the thread runs again.
func (t *Thread) Registers() ([]byte, error) {
	if !t.Stopped() {
		if t.state == ThreadRunning {
			return nil, errcode.Busy
		}
		return nil, errcode.ProcessNotFound
	}
	if t.regs == nil {
		regs, err := t.ops.ReadRegisters(t.Pid, t.Tid)
		if err != nil {
			return nil, fmt.Errorf("read registers of %d: %w", t.Tid, t.ops.TranslateError(err))
		}
		t.regs = regs
	}
	return t.regs, nil
}

func (t *Thread) SetRegisters(data []byte) error {
	if !t.Stopped() {
		if t.state == ThreadRunning {
			return errcode.Busy
		}
		return errcode.ProcessNotFound
	}
	if err := t.ops.WriteRegisters(t.Pid, t.Tid, data); err != nil {
		return fmt.Errorf("write registers of %d: %w", t.Tid, t.ops.TranslateError(err))
	}
	t.regs = append(t.regs[:0], data...)
	return nil
}

// terminate moves the thread to Terminated and releases its handle. A
// failing release is logged and returned, the thread is terminated anyway.
func (t *Thread) terminate() error {
	t.state = ThreadTerminated
	t.trap = platform.Trap{}
	t.regs = nil

	if !t.released.CompareAndSwap(false, true) {
		return &InvariantError{Pid: t.Pid, Tid: t.Tid, Msg: fmt.Sprintf("handle %#x released twice", uintptr(t.handle))}
	}
	if t.handle == platform.NoHandle {
		return nil
	}
	if err := t.ops.ReleaseHandle(t.handle); err != nil {
		t.log.Warnf("release handle %#x: %v", uintptr(t.handle), err)
		return fmt.Errorf("release handle of thread %d: %w", t.Tid, err)
	}
	return nil
}
