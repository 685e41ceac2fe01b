// Package platformtest provides a scripted platform back-end for tests.
//
// Events are queued by the test and handed out one per Wait call. Memory is
// a set of mapped regions; any access outside them fails with
// errcode.InvalidAddress. Every call that changes the target is recorded so
// tests can assert on it.
package platformtest

import (
	"errors"
	"fmt"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

// Region is a mapped memory range.
type Region struct {
	Addr uint64
	Data []byte
}

func (r *Region) contains(addr uint64, n int) bool {
	return addr >= r.Addr && addr+uint64(n) <= r.Addr+uint64(len(r.Data))
}

// ResumeCall records one Resume.
type ResumeCall struct {
	Tid int
	Req platform.ResumeRequest
}

type hwSlot struct {
	Addr uint64
	Size int
	Kind platform.WatchKind
}

// Backend is a scripted platform.Operations. The zero value is not usable,
// create it with New.
type Backend struct {
	Pid   int
	Caps  platform.Capabilities
	Table platform.EventTable
	Info  platform.ProcessInfo

	// InfoErr, ResumeErr, SuspendErr and ReleaseErr make the corresponding
	// calls fail. ResumeErrs fails the resume of single threads.
	InfoErr    error
	ResumeErr  error
	ResumeErrs map[int]error
	SuspendErr error
	ReleaseErr map[platform.Handle]error

	ThreadList []platform.ThreadRecord
	Events     []platform.Event
	Regions    []*Region
	Regs       map[int][]byte
	PCs        map[int]uint64

	// OnResume runs after a successful Resume, typically to queue the
	// event the resume will cause.
	OnResume func(b *Backend, tid int, req platform.ResumeRequest)

	// LaunchFn backs the Launcher capability, nil means unsupported.
	LaunchFn func(cmd string, args []string) (int, error)

	Resumed    []ResumeCall
	Suspended  []int
	Released   []platform.Handle
	Interrupts int
	Detached   bool
	Killed     bool
	HwSlots    map[int]map[int]hwSlot // tid -> slot -> watch
}

var (
	_ platform.Operations          = (*Backend)(nil)
	_ platform.HardwareBreakpoints = (*Backend)(nil)
	_ platform.ProgramCounter      = (*Backend)(nil)
	_ platform.Launcher            = (*Backend)(nil)
)

// New returns a back-end for process pid using table to interpret events.
// It supports every optional resume feature by default.
func New(pid int, table platform.EventTable, tids ...int) *Backend {
	b := &Backend{
		Pid: pid,
		Caps: platform.Capabilities{
			ResumeSignal:     true,
			ResumeAddress:    true,
			SingleStep:       true,
			BreakpointOpcode: []byte{0xCC},
		},
		Table:      table,
		Info:       platform.ProcessInfo{Pid: pid, Name: "inferior", Arch: "amd64", PtrSize: 8},
		ResumeErrs: map[int]error{},
		ReleaseErr: map[platform.Handle]error{},
		Regs:       map[int][]byte{},
		PCs:        map[int]uint64{},
		HwSlots:    map[int]map[int]hwSlot{},
	}
	for _, tid := range tids {
		b.ThreadList = append(b.ThreadList, platform.ThreadRecord{Tid: tid})
	}
	return b
}

// Queue appends events to the script.
func (b *Backend) Queue(events ...platform.Event) {
	b.Events = append(b.Events, events...)
}

// Map adds a memory region.
func (b *Backend) Map(addr uint64, data []byte) {
	b.Regions = append(b.Regions, &Region{Addr: addr, Data: data})
}

func (b *Backend) Capabilities() platform.Capabilities { return b.Caps }
func (b *Backend) EventTable() platform.EventTable     { return b.Table }

func (b *Backend) Threads(pid int) ([]platform.ThreadRecord, error) {
	if pid != b.Pid {
		return nil, errcode.ProcessNotFound
	}
	return b.ThreadList, nil
}

func (b *Backend) Resume(pid, tid int, req platform.ResumeRequest) error {
	if pid != b.Pid {
		return errcode.ProcessNotFound
	}
	if b.ResumeErr != nil {
		return b.ResumeErr
	}
	if err := b.ResumeErrs[tid]; err != nil {
		return err
	}
	if req.Signal != 0 && !b.Caps.ResumeSignal {
		return errcode.Unsupported
	}
	if req.Address.Valid() && !b.Caps.ResumeAddress {
		return errcode.Unsupported
	}
	if req.Address.Valid() {
		b.PCs[tid] = req.Address.Value
	}
	b.Resumed = append(b.Resumed, ResumeCall{Tid: tid, Req: req})
	if b.OnResume != nil {
		b.OnResume(b, tid, req)
	}
	return nil
}

func (b *Backend) Suspend(pid, tid int) error {
	if b.SuspendErr != nil {
		return b.SuspendErr
	}
	b.Suspended = append(b.Suspended, tid)
	return nil
}

func (b *Backend) Interrupt(pid int) error {
	b.Interrupts++
	return nil
}

func (b *Backend) Wait(pid int) (platform.Event, error) {
	if len(b.Events) == 0 {
		return nil, nil
	}
	ev := b.Events[0]
	b.Events = b.Events[1:]
	return ev, nil
}

func (b *Backend) TranslateError(err error) errcode.Code {
	return errcode.Of(err)
}

func (b *Backend) ReleaseHandle(h platform.Handle) error {
	b.Released = append(b.Released, h)
	return b.ReleaseErr[h]
}

// ReleaseCount reports how often h was released.
func (b *Backend) ReleaseCount(h platform.Handle) int {
	n := 0
	for _, r := range b.Released {
		if r == h {
			n++
		}
	}
	return n
}

func (b *Backend) ProcessInfo(pid int) (platform.ProcessInfo, error) {
	if b.InfoErr != nil {
		return platform.ProcessInfo{}, b.InfoErr
	}
	if pid != b.Pid {
		return platform.ProcessInfo{}, errcode.ProcessNotFound
	}
	return b.Info, nil
}

func (b *Backend) region(addr uint64, n int) (*Region, error) {
	for _, r := range b.Regions {
		if r.contains(addr, n) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%#x+%d not mapped: %w", addr, n, errcode.InvalidAddress)
}

func (b *Backend) ReadMemory(pid int, addr uint64, buf []byte) (int, error) {
	r, err := b.region(addr, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, r.Data[addr-r.Addr:]), nil
}

func (b *Backend) WriteMemory(pid int, addr uint64, data []byte) (int, error) {
	r, err := b.region(addr, len(data))
	if err != nil {
		return 0, err
	}
	return copy(r.Data[addr-r.Addr:], data), nil
}

func (b *Backend) ReadRegisters(pid, tid int) ([]byte, error) {
	regs, ok := b.Regs[tid]
	if !ok {
		return nil, errcode.NotFound
	}
	return append([]byte(nil), regs...), nil
}

func (b *Backend) WriteRegisters(pid, tid int, data []byte) error {
	if _, ok := b.Regs[tid]; !ok {
		return errcode.NotFound
	}
	b.Regs[tid] = append([]byte(nil), data...)
	return nil
}

func (b *Backend) SetPC(pid, tid int, pc uint64) error {
	b.PCs[tid] = pc
	return nil
}

func (b *Backend) SetHardwareBreakpoint(pid, tid int, addr uint64, size int, kind platform.WatchKind) (int, error) {
	slots := b.HwSlots[tid]
	if slots == nil {
		slots = map[int]hwSlot{}
		b.HwSlots[tid] = slots
	}
	for i := 0; i < 4; i++ {
		if _, used := slots[i]; !used {
			slots[i] = hwSlot{Addr: addr, Size: size, Kind: kind}
			return i, nil
		}
	}
	return -1, errcode.Busy
}

func (b *Backend) ClearHardwareBreakpoint(pid, tid int, slot int) error {
	if _, ok := b.HwSlots[tid][slot]; !ok {
		return errcode.NotFound
	}
	delete(b.HwSlots[tid], slot)
	return nil
}

func (b *Backend) Launch(cmd string, args []string) (int, error) {
	if b.LaunchFn == nil {
		return 0, errcode.Unsupported
	}
	return b.LaunchFn(cmd, args)
}

func (b *Backend) Detach(pid int) error {
	b.Detached = true
	return nil
}

func (b *Backend) Kill(pid int) error {
	b.Killed = true
	return nil
}

// ErrInjected is a generic failure for tests that need one.
var ErrInjected = errors.New("injected failure")
