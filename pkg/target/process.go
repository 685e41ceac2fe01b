// Package target holds the debugger core: the per-thread execution state
// machine and the process controller that owns the threads of one debuggee.
//
// Everything here runs on a single control goroutine; nothing is locked.
package target

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

// Kind 发起调试的类型
type Kind int

const (
	EXEC   Kind = iota // 启动并调试进程
	ATTACH             // 调试运行中的进程
)

func (k Kind) String() string {
	if k == ATTACH {
		return "attach"
	}
	return "exec"
}

// ProcessState is the aggregate state of a debuggee.
type ProcessState int

const (
	ProcessAttaching ProcessState = iota + 1
	ProcessRunning
	ProcessStopped
	ProcessExited
	ProcessTerminated
)

func (s ProcessState) String() string {
	switch s {
	case ProcessAttaching:
		return "attaching"
	case ProcessRunning:
		return "running"
	case ProcessStopped:
		return "stopped"
	case ProcessExited:
		return "exited"
	case ProcessTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// Terminal reports whether the process is gone.
func (s ProcessState) Terminal() bool {
	return s == ProcessExited || s == ProcessTerminated
}

// Info is the process metadata reported by GetInfo.
type Info struct {
	Pid     int
	Name    string
	Args    []string
	Arch    string
	PtrSize int
	Kind    Kind
	State   ProcessState

	// ExitStatus is the exit code or terminating signal once terminal.
	ExitStatus int
}

// Process 被调试进程信息
type Process struct {
	pid   int
	kind  Kind
	ops   platform.Operations
	table platform.EventTable
	log   *logrus.Entry

	state      ProcessState
	exitStatus int
	closed     bool

	threads     map[int]*Thread // k=tid,v=thread
	breakpoints map[bpKey]*Breakpoint
	mem         *memCache
	info        *Info
}

// Option configures a Process.
type Option func(*Process)

// WithLogger sets the logger, fields pid and component are added.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Process) {
		p.log = log
	}
}

// WithCacheLines sets the number of memory cache lines, 0 disables the
// cache.
func WithCacheLines(n int) Option {
	return func(p *Process) {
		p.mem = newMemCache(n)
	}
}

// Attach takes control of process pid, which the back-end has already
// launched or attached. Every enumerated thread starts Stopped.
func Attach(ops platform.Operations, pid int, kind Kind, opts ...Option) (*Process, error) {
	p := &Process{
		pid:         pid,
		kind:        kind,
		ops:         ops,
		table:       ops.EventTable(),
		log:         logrus.NewEntry(logrus.StandardLogger()),
		state:       ProcessAttaching,
		threads:     map[int]*Thread{},
		breakpoints: map[bpKey]*Breakpoint{},
		mem:         newMemCache(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithFields(logrus.Fields{"pid": pid, "component": "target"})

	records, err := ops.Threads(pid)
	if err != nil {
		return nil, fmt.Errorf("enumerate threads of %d: %w", pid, ops.TranslateError(err))
	}
	for _, rec := range records {
		if _, ok := p.threads[rec.Tid]; ok {
			continue
		}
		p.threads[rec.Tid] = newThread(p, rec.Tid, rec.Handle)
	}

	p.state = ProcessStopped
	p.log.Infof("%s: %d threads", kind, len(p.threads))
	return p, nil
}

func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) Kind() Kind {
	return p.kind
}

func (p *Process) State() ProcessState {
	return p.state
}

func (p *Process) ExitStatus() int {
	return p.exitStatus
}

func (p *Process) Ops() platform.Operations {
	return p.ops
}

// Thread returns the live thread tid.
func (p *Process) Thread(tid int) (*Thread, bool) {
	t, ok := p.threads[tid]
	return t, ok
}

// Threads returns every live thread, sorted by tid.
func (p *Process) Threads() []*Thread {
	threads := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].Tid < threads[j].Tid })
	return threads
}

func (p *Process) liveThreads() []*Thread {
	threads := p.Threads()
	live := threads[:0]
	for _, t := range threads {
		if t.state != ThreadTerminated {
			live = append(live, t)
		}
	}
	return live
}

func (p *Process) live() error {
	if p.closed || p.state.Terminal() {
		return ErrProcessGone
	}
	return nil
}

// translate maps err to an errcode.Code, using fallback for nil or
// unrecognised errors.
func (p *Process) translate(err error, fallback errcode.Code) errcode.Code {
	if err == nil {
		return fallback
	}
	if code := p.ops.TranslateError(err); code != errcode.Unknown && code != errcode.Success {
		return code
	}
	return fallback
}

// GetInfo returns the process metadata. While the process is alive the
// platform is queried so a vanished process is reported as an error.
func (p *Process) GetInfo() (Info, error) {
	if p.info != nil && (p.closed || p.state.Terminal()) {
		info := *p.info
		info.State, info.ExitStatus = p.state, p.exitStatus
		return info, nil
	}
	if p.closed {
		return Info{}, ErrProcessGone
	}

	pi, err := p.ops.ProcessInfo(p.pid)
	if err != nil {
		return Info{}, fmt.Errorf("query process %d: %w", p.pid, p.ops.TranslateError(err))
	}
	p.info = &Info{
		Pid:     pi.Pid,
		Name:    pi.Name,
		Args:    pi.Args,
		Arch:    pi.Arch,
		PtrSize: pi.PtrSize,
		Kind:    p.kind,
	}
	info := *p.info
	info.State, info.ExitStatus = p.state, p.exitStatus
	return info, nil
}

// updateState recomputes the aggregate state from the threads. Terminal
// states are never left.
func (p *Process) updateState() {
	if p.state.Terminal() {
		return
	}
	live := 0
	for _, t := range p.threads {
		if t.state == ThreadTerminated {
			continue
		}
		live++
		if t.state != ThreadRunning {
			p.state = ProcessStopped
			return
		}
	}
	if live == 0 {
		p.state = ProcessStopped
		return
	}
	p.state = ProcessRunning
}

// Running reports whether any thread runs and events are to be expected.
func (p *Process) Running() bool {
	return !p.closed && !p.state.Terminal() && p.anyRunning()
}

func (p *Process) anyRunning() bool {
	for _, t := range p.threads {
		if t.state == ThreadRunning {
			return true
		}
	}
	return false
}

// ResumeAll continues every thread that is not running with sig and addr.
// It is all or nothing: on the first failure the threads resumed so far are
// suspended again and the error is returned.
func (p *Process) ResumeAll(sig int, addr platform.Address) error {
	if err := p.live(); err != nil {
		return err
	}
	return p.resumeAll(nil, sig, addr)
}

// ResumeAllWith continues every thread that is not running, tid with sig
// and addr and the others plainly. Like ResumeAll it is all or nothing.
func (p *Process) ResumeAllWith(tid int, sig int, addr platform.Address) error {
	t, err := p.lookup(tid)
	if err != nil {
		return err
	}
	return p.resumeAll(t, sig, addr)
}

func (p *Process) resumeAll(sel *Thread, sig int, addr platform.Address) error {
	p.mem.purge()

	threads := p.liveThreads()
	if sel != nil {
		// sel goes first so a rejected signal or address resumes nothing
		order := []*Thread{sel}
		for _, t := range threads {
			if t != sel {
				order = append(order, t)
			}
		}
		threads = order
	}

	var resumed []*Thread
	for _, t := range threads {
		// a running sel still fails when it was handed a signal or address
		if t.state == ThreadRunning && (t != sel || (sig == 0 && !addr.Valid())) {
			continue
		}
		s, a := sig, addr
		if sel != nil && t != sel {
			s, a = 0, platform.Address{}
		}
		if err := t.Resume(s, a); err != nil {
			p.rollback(resumed)
			p.updateState()
			return err
		}
		resumed = append(resumed, t)
	}
	p.updateState()
	return nil
}

// rollback suspends the threads a failed request has already set running.
func (p *Process) rollback(resumed []*Thread) {
	for _, t := range resumed {
		if err := p.suspend(t); err != nil {
			p.log.WithError(err).WithField("tid", t.Tid).Warn("thread keeps running after a failed resume")
		}
	}
}

// Resume continues one thread.
func (p *Process) Resume(tid int, sig int, addr platform.Address) error {
	t, err := p.lookup(tid)
	if err != nil {
		return err
	}
	p.mem.purge()
	err = t.Resume(sig, addr)
	p.updateState()
	return err
}

// Step single-steps one thread, the others keep their state.
func (p *Process) Step(tid int, sig int, addr platform.Address) error {
	t, err := p.lookup(tid)
	if err != nil {
		return err
	}
	p.mem.purge()
	err = t.Step(sig, addr)
	p.updateState()
	return err
}

func (p *Process) lookup(tid int) (*Thread, error) {
	if err := p.live(); err != nil {
		return nil, err
	}
	t, ok := p.threads[tid]
	if !ok {
		return nil, fmt.Errorf("thread %d: %w", tid, ErrThreadNotExisted)
	}
	return t, nil
}

// ActionKind is one vCont action.
type ActionKind int

const (
	ActionContinue ActionKind = iota
	ActionStep
	ActionStop
)

// AllThreads addresses every thread in an Action.
const AllThreads = -1

// Action applies to Tid, or to every thread not matched by an earlier
// action when Tid is AllThreads.
type Action struct {
	Kind   ActionKind
	Signal int
	Tid    int
}

// Apply runs a vCont action list. Each thread gets the leftmost action that
// matches it; threads without an action keep their state. On the first
// failure the threads resumed by this call are suspended again.
func (p *Process) Apply(actions []Action) error {
	if err := p.live(); err != nil {
		return err
	}
	for _, a := range actions {
		if a.Tid != AllThreads {
			if _, ok := p.threads[a.Tid]; !ok {
				return fmt.Errorf("thread %d: %w", a.Tid, ErrThreadNotExisted)
			}
		}
	}

	p.mem.purge()
	var resumed []*Thread
	for _, t := range p.liveThreads() {
		a, ok := matchAction(actions, t.Tid)
		if !ok {
			continue
		}

		var err error
		switch a.Kind {
		case ActionContinue:
			if t.state == ThreadRunning {
				continue
			}
			if err = t.Resume(a.Signal, platform.Address{}); err == nil {
				resumed = append(resumed, t)
			}
		case ActionStep:
			if t.state == ThreadRunning {
				continue
			}
			if err = t.Step(a.Signal, platform.Address{}); err == nil {
				resumed = append(resumed, t)
			}
		case ActionStop:
			err = p.suspend(t)
		}
		if err != nil {
			p.rollback(resumed)
			p.updateState()
			return err
		}
	}
	p.updateState()
	return nil
}

func matchAction(actions []Action, tid int) (Action, bool) {
	for _, a := range actions {
		if a.Tid == AllThreads || a.Tid == tid {
			return a, true
		}
	}
	return Action{}, false
}

func (p *Process) suspend(t *Thread) error {
	if t.state != ThreadRunning {
		return nil
	}
	if err := p.ops.Suspend(p.pid, t.Tid); err != nil {
		return fmt.Errorf("suspend thread %d: %w", t.Tid, p.ops.TranslateError(err))
	}
	t.park()
	return nil
}

// StopAll suspends every running thread, used in all-stop mode once one
// thread has stopped.
func (p *Process) StopAll() error {
	if err := p.live(); err != nil {
		return err
	}
	var firstErr error
	for _, t := range p.liveThreads() {
		if err := p.suspend(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.updateState()
	return firstErr
}

// Interrupt asks the process to stop; the stop arrives through Poll.
func (p *Process) Interrupt() error {
	if err := p.live(); err != nil {
		return err
	}
	if err := p.ops.Interrupt(p.pid); err != nil {
		return fmt.Errorf("interrupt %d: %w", p.pid, p.ops.TranslateError(err))
	}
	return nil
}

// OutcomeKind classifies the result of one Poll.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeHousekeeping
	OutcomeStop
	OutcomeThreadCreated
	OutcomeThreadExited
	OutcomeProcessExited
	OutcomeProcessTerminated
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeHousekeeping:
		return "housekeeping"
	case OutcomeStop:
		return "stop"
	case OutcomeThreadCreated:
		return "thread-created"
	case OutcomeThreadExited:
		return "thread-exited"
	case OutcomeProcessExited:
		return "process-exited"
	case OutcomeProcessTerminated:
		return "process-terminated"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is what one debug event meant for the process.
type Outcome struct {
	Kind OutcomeKind
	Tid  int
	Trap platform.Trap

	// Status is the exit code or terminating signal.
	Status int

	// Resumed is set when a housekeeping stop was resumed transparently.
	Resumed bool
}

// Poll consumes at most one debug event. Having no event available is not
// an error; it returns OutcomeNone.
func (p *Process) Poll() (Outcome, error) {
	if err := p.live(); err != nil {
		return Outcome{}, err
	}

	ev, err := p.ops.Wait(p.pid)
	if err != nil {
		return Outcome{}, fmt.Errorf("wait %d: %w", p.pid, p.ops.TranslateError(err))
	}
	if ev == nil {
		return Outcome{Kind: OutcomeNone}, nil
	}
	if ev.ProcessID() != p.pid {
		return Outcome{}, &InvariantError{Pid: p.pid, Tid: ev.ThreadID(), Msg: fmt.Sprintf("event for process %d", ev.ProcessID())}
	}

	if lc, ok := p.table.Lifecycle(ev); ok {
		return p.handleLifecycle(lc)
	}

	// a thread may be first observed through a stop event
	t, ok := p.threads[ev.ThreadID()]
	if !ok {
		t = newThread(p, ev.ThreadID(), platform.NoHandle)
		p.threads[t.Tid] = t
		p.applyHardware(t)
	}

	wasRunning := t.state == ThreadRunning
	if err := t.Classify(ev); err != nil {
		return Outcome{}, err
	}
	p.mem.purge()
	p.rewindBreakpoint(t)

	if t.trap.Event == platform.EventNone {
		out := Outcome{Kind: OutcomeHousekeeping, Tid: t.Tid}
		if wasRunning {
			if err := t.Resume(0, platform.Address{}); err != nil {
				p.updateState()
				return out, err
			}
			out.Resumed = true
		}
		p.updateState()
		return out, nil
	}

	p.updateState()
	return Outcome{Kind: OutcomeStop, Tid: t.Tid, Trap: t.trap}, nil
}

// rewindBreakpoint moves the PC of a thread that executed one of our
// software breakpoints back to the breakpoint address.
func (p *Process) rewindBreakpoint(t *Thread) {
	trap := t.trap
	if trap.Event != platform.EventBreakpoint || trap.Reason != platform.ReasonNone || !trap.Address.Valid() {
		return
	}
	if _, ok := p.softwareBreakpointAt(trap.Address.Value); !ok {
		return
	}
	pc, ok := p.ops.(platform.ProgramCounter)
	if !ok {
		return
	}
	if err := pc.SetPC(p.pid, t.Tid, trap.Address.Value); err != nil {
		t.log.Warnf("rewind pc to %s: %v", trap.Address, err)
		return
	}
	t.regs = nil
}

func (p *Process) handleLifecycle(lc platform.Lifecycle) (Outcome, error) {
	log := p.log.WithField("tid", lc.Tid)
	p.releaseTransient(lc.Release)

	switch lc.Kind {
	case platform.ThreadCreated:
		wasRunning := p.anyRunning()
		t, ok := p.threads[lc.Tid]
		if ok {
			if lc.Handle != platform.NoHandle && lc.Handle != t.handle {
				p.releaseTransient([]platform.Handle{lc.Handle})
			}
		} else {
			t = newThread(p, lc.Tid, lc.Handle)
			p.threads[lc.Tid] = t
			p.applyHardware(t)
		}
		log.Debug("thread created")

		p.continueReporter(lc)
		if wasRunning && t.state != ThreadRunning {
			if err := t.Resume(0, platform.Address{}); err != nil {
				p.updateState()
				return Outcome{Kind: OutcomeThreadCreated, Tid: lc.Tid}, err
			}
		}
		p.updateState()
		return Outcome{Kind: OutcomeThreadCreated, Tid: lc.Tid}, nil

	case platform.ThreadExited:
		var err error
		if t, ok := p.threads[lc.Tid]; ok {
			err = t.terminate()
			delete(p.threads, lc.Tid)
			p.forgetThread(lc.Tid)
		}
		log.Debugf("thread exited: %d", lc.Status)
		p.continueReporter(lc)
		if IsInvariant(err) {
			return Outcome{}, err
		}

		if len(p.threads) == 0 {
			p.state = ProcessExited
			p.exitStatus = lc.Status
			return Outcome{Kind: OutcomeProcessExited, Tid: lc.Tid, Status: lc.Status}, nil
		}
		p.updateState()
		return Outcome{Kind: OutcomeThreadExited, Tid: lc.Tid, Status: lc.Status}, nil

	case platform.ProcessExited, platform.ProcessTerminated:
		err := p.teardown()
		p.continueReporter(lc)
		p.exitStatus = lc.Status
		kind := OutcomeProcessExited
		p.state = ProcessExited
		if lc.Kind == platform.ProcessTerminated {
			kind = OutcomeProcessTerminated
			p.state = ProcessTerminated
		}
		p.log.Infof("process %s: %d", lc.Kind, lc.Status)
		if IsInvariant(err) {
			return Outcome{}, err
		}
		return Outcome{Kind: kind, Tid: lc.Tid, Status: lc.Status}, nil
	}

	return Outcome{}, &InvariantError{Pid: p.pid, Tid: lc.Tid, Msg: fmt.Sprintf("lifecycle event %s", lc.Kind)}
}

// continueReporter lets the thread that delivered a lifecycle event go on
// when it was running before. A creation event reported by the new thread
// itself is handled by resuming that thread.
func (p *Process) continueReporter(lc platform.Lifecycle) {
	if lc.Reporter == 0 || (lc.Kind == platform.ThreadCreated && lc.Reporter == lc.Tid) {
		return
	}

	t, ok := p.threads[lc.Reporter]
	if ok && t.state != ThreadRunning && !lc.Kind.Terminal() && lc.Reporter != lc.Tid {
		// stopped by us in the meantime, it stays stopped
		return
	}
	if err := p.ops.Resume(p.pid, lc.Reporter, platform.ResumeRequest{}); err != nil {
		p.log.WithField("tid", lc.Reporter).Warnf("continue after %s: %v", lc.Kind, err)
	}
}

func (p *Process) releaseTransient(handles []platform.Handle) {
	for _, h := range handles {
		if err := p.ops.ReleaseHandle(h); err != nil {
			p.log.Warnf("release transient handle %#x: %v", uintptr(h), err)
		}
	}
}

// teardown terminates every thread and releases every handle. Release
// failures do not stop the teardown; they are joined into the result.
func (p *Process) teardown() error {
	var errs []error
	for _, t := range p.Threads() {
		if err := t.terminate(); err != nil {
			errs = append(errs, err)
		}
		delete(p.threads, t.Tid)
	}
	for _, bp := range p.breakpoints {
		bp.slots = map[int]int{}
	}
	p.mem.purge()
	return errors.Join(errs...)
}

// ReadMemory reads n bytes at addr. Software breakpoints are invisible in
// the result. A short result means the rest is not readable.
func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	if err := p.live(); err != nil {
		return nil, err
	}
	if n < 0 || addr+uint64(n) < addr {
		return nil, fmt.Errorf("read %#x+%d: %w", addr, n, errcode.InvalidAddress)
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf, err := p.readMemory(addr, n)
	if err != nil {
		return nil, err
	}
	p.maskBreakpoints(addr, buf)
	return buf, nil
}

// WriteMemory writes data at addr, keeping software breakpoints in place.
func (p *Process) WriteMemory(addr uint64, data []byte) error {
	if err := p.live(); err != nil {
		return err
	}
	if addr+uint64(len(data)) < addr {
		return fmt.Errorf("write %#x+%d: %w", addr, len(data), errcode.InvalidAddress)
	}
	if len(data) == 0 {
		return nil
	}
	p.mem.purge()

	out := p.shadowBreakpoints(addr, data)
	n, err := p.ops.WriteMemory(p.pid, addr, out)
	if err != nil || n != len(out) {
		return fmt.Errorf("write memory at %#x, %d bytes: %w", addr, n, p.translate(err, errcode.InvalidAddress))
	}
	return nil
}

// Detach removes every breakpoint, lets the process go and releases every
// handle. Handles are released even if the platform detach fails.
func (p *Process) Detach() error {
	if p.closed {
		return ErrProcessGone
	}
	var errs []error
	if !p.state.Terminal() {
		if err := p.ClearAll(); err != nil {
			errs = append(errs, err)
		}
		if err := p.ops.Detach(p.pid); err != nil {
			errs = append(errs, fmt.Errorf("detach %d: %w", p.pid, p.ops.TranslateError(err)))
		}
	}
	errs = append(errs, p.teardown())
	p.closed = true
	p.log.Info("process detached")
	return errors.Join(errs...)
}

// Kill kills the process and releases every handle.
func (p *Process) Kill() error {
	if p.closed {
		return ErrProcessGone
	}
	var errs []error
	if !p.state.Terminal() {
		if err := p.ops.Kill(p.pid); err != nil {
			errs = append(errs, fmt.Errorf("kill %d: %w", p.pid, p.ops.TranslateError(err)))
		}
		p.state = ProcessTerminated
		p.exitStatus = platform.SIGKILL
	}
	errs = append(errs, p.teardown())
	p.closed = true
	p.log.Info("process killed")
	return errors.Join(errs...)
}

// Close releases every handle without touching the process. It is used
// once the process is gone.
func (p *Process) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.teardown()
}
