package target

import (
	"bytes"
	"fmt"
	"sort"

	"go.uber.org/atomic"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

var (
	bpSeqNo = atomic.NewUint64(0)
)

// BreakpointKind follows the numbering of the Z packets.
type BreakpointKind int

const (
	SoftwareBreakpoint BreakpointKind = iota
	HardwareBreakpoint
	WriteWatchpoint
	ReadWatchpoint
	AccessWatchpoint
)

func (k BreakpointKind) String() string {
	switch k {
	case SoftwareBreakpoint:
		return "sw"
	case HardwareBreakpoint:
		return "hw"
	case WriteWatchpoint:
		return "watch"
	case ReadWatchpoint:
		return "rwatch"
	case AccessWatchpoint:
		return "awatch"
	default:
		return fmt.Sprintf("BreakpointKind(%d)", int(k))
	}
}

func (k BreakpointKind) watchKind() platform.WatchKind {
	switch k {
	case WriteWatchpoint:
		return platform.WatchWrite
	case ReadWatchpoint:
		return platform.WatchRead
	case AccessWatchpoint:
		return platform.WatchAccess
	default:
		return platform.WatchExecute
	}
}

// Breakpoint 断点信息
type Breakpoint struct {
	ID   uint64         // 断点编号
	Kind BreakpointKind // 断点类型
	Addr uint64         // 断点地址
	Size int            // 监视长度
	Orig []byte         // 原内存数据，仅软件断点

	slots map[int]int // tid -> debug register slot, hardware only
}

func newBreakpoint(kind BreakpointKind, addr uint64, size int) *Breakpoint {
	return &Breakpoint{
		ID:    bpSeqNo.Add(1),
		Kind:  kind,
		Addr:  addr,
		Size:  size,
		slots: map[int]int{},
	}
}

// overlaps reports whether the patched bytes of a software breakpoint
// intersect [addr, addr+n).
func (b *Breakpoint) overlaps(addr uint64, n int) bool {
	end := b.Addr + uint64(len(b.Orig))
	return b.Addr < addr+uint64(n) && addr < end
}

// Breakpoints 所有的断点信息
type Breakpoints []*Breakpoint

// Len 返回长度
func (b Breakpoints) Len() int {
	return len(b)
}

// Less 检查b[i]是否小于b[j]
func (b Breakpoints) Less(i, j int) bool {
	return b[i].ID < b[j].ID
}

// Swap 交换b[i]和b[j]
func (b Breakpoints) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}

type bpKey struct {
	kind BreakpointKind
	addr uint64
}

// Breakpoints returns every breakpoint sorted by ID.
func (p *Process) Breakpoints() Breakpoints {
	bps := make(Breakpoints, 0, len(p.breakpoints))
	for _, bp := range p.breakpoints {
		bps = append(bps, bp)
	}
	sort.Sort(bps)
	return bps
}

// softwareBreakpointAt returns the software breakpoint patched at addr.
func (p *Process) softwareBreakpointAt(addr uint64) (*Breakpoint, bool) {
	bp, ok := p.breakpoints[bpKey{SoftwareBreakpoint, addr}]
	return bp, ok
}

// AddBreakpoint 在地址addr处添加断点，返回新创建的断点
//
// Inserting a breakpoint that already exists returns the existing one.
func (p *Process) AddBreakpoint(kind BreakpointKind, addr uint64, size int) (*Breakpoint, error) {
	if err := p.live(); err != nil {
		return nil, err
	}
	if bp, ok := p.breakpoints[bpKey{kind, addr}]; ok {
		return bp, nil
	}

	var (
		bp  *Breakpoint
		err error
	)
	if kind == SoftwareBreakpoint {
		bp, err = p.addSoftware(addr)
	} else {
		bp, err = p.addHardware(kind, addr, size)
	}
	if err != nil {
		return nil, err
	}
	p.breakpoints[bpKey{kind, addr}] = bp
	p.log.Debugf("breakpoint %d added: %s at %#x", bp.ID, kind, addr)
	return bp, nil
}

func (p *Process) addSoftware(addr uint64) (*Breakpoint, error) {
	opcode := p.ops.Capabilities().BreakpointOpcode
	if len(opcode) == 0 {
		return nil, fmt.Errorf("software breakpoints: %w", errcode.Unsupported)
	}

	orig := make([]byte, len(opcode))
	n, err := p.ops.ReadMemory(p.pid, addr, orig)
	if err != nil || n != len(orig) {
		return nil, fmt.Errorf("peek text at %#x, %d bytes: %w", addr, n, p.translate(err, errcode.InvalidAddress))
	}
	n, err = p.ops.WriteMemory(p.pid, addr, opcode)
	if err != nil || n != len(opcode) {
		return nil, fmt.Errorf("poke text at %#x, %d bytes: %w", addr, n, p.translate(err, errcode.InvalidAddress))
	}
	p.mem.purge()

	bp := newBreakpoint(SoftwareBreakpoint, addr, len(opcode))
	bp.Orig = orig
	return bp, nil
}

func (p *Process) addHardware(kind BreakpointKind, addr uint64, size int) (*Breakpoint, error) {
	hw, ok := p.ops.(platform.HardwareBreakpoints)
	if !ok {
		return nil, fmt.Errorf("%s breakpoints: %w", kind, errcode.Unsupported)
	}

	bp := newBreakpoint(kind, addr, size)
	for _, t := range p.liveThreads() {
		slot, err := hw.SetHardwareBreakpoint(p.pid, t.Tid, addr, size, kind.watchKind())
		if err != nil {
			p.clearHardware(hw, bp)
			return nil, fmt.Errorf("set %s at %#x on thread %d: %w", kind, addr, t.Tid, p.translate(err, errcode.Unknown))
		}
		bp.slots[t.Tid] = slot
	}
	return bp, nil
}

// applyHardware arms every hardware breakpoint on a newly created thread.
func (p *Process) applyHardware(t *Thread) {
	hw, ok := p.ops.(platform.HardwareBreakpoints)
	if !ok {
		return
	}
	for _, bp := range p.breakpoints {
		if bp.Kind == SoftwareBreakpoint {
			continue
		}
		slot, err := hw.SetHardwareBreakpoint(p.pid, t.Tid, bp.Addr, bp.Size, bp.Kind.watchKind())
		if err != nil {
			t.log.Warnf("arm breakpoint %d: %v", bp.ID, err)
			continue
		}
		bp.slots[t.Tid] = slot
	}
}

// forgetThread drops the slots of a thread that is gone.
func (p *Process) forgetThread(tid int) {
	for _, bp := range p.breakpoints {
		delete(bp.slots, tid)
	}
}

func (p *Process) clearHardware(hw platform.HardwareBreakpoints, bp *Breakpoint) error {
	var firstErr error
	for tid, slot := range bp.slots {
		if err := hw.ClearHardwareBreakpoint(p.pid, tid, slot); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(bp.slots, tid)
	}
	return firstErr
}

// ClearBreakpoint 删除addr处的断点
func (p *Process) ClearBreakpoint(kind BreakpointKind, addr uint64) (*Breakpoint, error) {
	bp, ok := p.breakpoints[bpKey{kind, addr}]
	if !ok {
		return nil, ErrBreakpointNotExisted
	}

	var err error
	if kind == SoftwareBreakpoint {
		var n int
		n, err = p.ops.WriteMemory(p.pid, bp.Addr, bp.Orig)
		if err == nil && n != len(bp.Orig) {
			err = fmt.Errorf("short write %d/%d", n, len(bp.Orig))
		}
		p.mem.purge()
	} else if hw, ok := p.ops.(platform.HardwareBreakpoints); ok {
		err = p.clearHardware(hw, bp)
	}
	if err != nil {
		return nil, fmt.Errorf("clear breakpoint %d: %w", bp.ID, p.translate(err, errcode.Unknown))
	}

	delete(p.breakpoints, bpKey{kind, addr})
	p.log.Debugf("breakpoint %d cleared", bp.ID)
	return bp, nil
}

// ClearAll 删除所有已添加的断点
func (p *Process) ClearAll() error {
	var firstErr error
	for _, bp := range p.Breakpoints() {
		if _, err := p.ClearBreakpoint(bp.Kind, bp.Addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// maskBreakpoints replaces patched opcode bytes in buf, read from addr, with
// the original memory contents.
func (p *Process) maskBreakpoints(addr uint64, buf []byte) {
	for _, bp := range p.breakpoints {
		if bp.Kind != SoftwareBreakpoint || !bp.overlaps(addr, len(buf)) {
			continue
		}
		for i, b := range bp.Orig {
			a := bp.Addr + uint64(i)
			if a >= addr && a < addr+uint64(len(buf)) {
				buf[a-addr] = b
			}
		}
	}
}

// shadowBreakpoints keeps patched opcodes in place when data is written over
// them: the written bytes become the new original contents.
func (p *Process) shadowBreakpoints(addr uint64, data []byte) []byte {
	var out []byte
	for _, bp := range p.breakpoints {
		if bp.Kind != SoftwareBreakpoint || !bp.overlaps(addr, len(data)) {
			continue
		}
		if out == nil {
			out = bytes.Clone(data)
		}
		opcode := p.ops.Capabilities().BreakpointOpcode
		for i := range bp.Orig {
			a := bp.Addr + uint64(i)
			if a >= addr && a < addr+uint64(len(data)) {
				bp.Orig[i] = data[a-addr]
				if i < len(opcode) {
					out[a-addr] = opcode[i]
				}
			}
		}
	}
	if out == nil {
		return data
	}
	return out
}
