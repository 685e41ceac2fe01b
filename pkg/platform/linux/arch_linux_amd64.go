//go:build linux && amd64

package linux

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

var breakpointOpcode = []byte{0xCC}

// amd64 register block in the order of gdb's i386:x86-64 target: sixteen
// general purpose registers and rip as 8 bytes, then eflags and the segment
// registers as 4 bytes.
const (
	numRegs64  = 17
	numRegs32  = 7
	regsLength = numRegs64*8 + numRegs32*4
)

func readRegisters(tid int) ([]byte, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return nil, err
	}

	buf := make([]byte, regsLength)
	for i, v := range []uint64{
		regs.Rax, regs.Rbx, regs.Rcx, regs.Rdx, regs.Rsi, regs.Rdi, regs.Rbp, regs.Rsp,
		regs.R8, regs.R9, regs.R10, regs.R11, regs.R12, regs.R13, regs.R14, regs.R15,
		regs.Rip,
	} {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	off := numRegs64 * 8
	for i, v := range []uint64{regs.Eflags, regs.Cs, regs.Ss, regs.Ds, regs.Es, regs.Fs, regs.Gs} {
		binary.LittleEndian.PutUint32(buf[off+i*4:], uint32(v))
	}
	return buf, nil
}

func writeRegisters(tid int, data []byte) error {
	if len(data) < regsLength {
		return fmt.Errorf("register block too short: %d < %d: %w", len(data), regsLength, errcode.InvalidArgument)
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return err
	}
	for i, p := range []*uint64{
		&regs.Rax, &regs.Rbx, &regs.Rcx, &regs.Rdx, &regs.Rsi, &regs.Rdi, &regs.Rbp, &regs.Rsp,
		&regs.R8, &regs.R9, &regs.R10, &regs.R11, &regs.R12, &regs.R13, &regs.R14, &regs.R15,
		&regs.Rip,
	} {
		*p = binary.LittleEndian.Uint64(data[i*8:])
	}
	off := numRegs64 * 8
	for i, p := range []*uint64{&regs.Eflags, &regs.Cs, &regs.Ss, &regs.Ds, &regs.Es, &regs.Fs, &regs.Gs} {
		*p = uint64(binary.LittleEndian.Uint32(data[off+i*4:]))
	}
	// orig_rax must not look like a pending syscall restart
	regs.Orig_rax = ^uint64(0)
	return unix.PtraceSetRegs(tid, &regs)
}

func getPC(tid int) (uint64, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return 0, err
	}
	return regs.PC(), nil
}

func setPC(tid int, pc uint64) error {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return err
	}
	regs.SetPC(pc)
	return unix.PtraceSetRegs(tid, &regs)
}

// x86 debug registers, offsetof(struct user, u_debugreg).
const (
	numDebugSlots = 4
	debugRegOff   = 848
	dr6           = 6
	dr7           = 7
)

// hwSlot is one DR0-DR3 slot, shared by all threads using it.
type hwSlot struct {
	addr uint64
	size int
	kind platform.WatchKind
	tids map[int]bool
}

func (s *hwSlot) matches(addr uint64, size int, kind platform.WatchKind) bool {
	return s.addr == addr && s.size == size && s.kind == kind
}

func peekDebugReg(tid, n int) (uint64, error) {
	buf := make([]byte, 8)
	if _, err := unix.PtracePeekUser(tid, uintptr(debugRegOff+n*8), buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func pokeDebugReg(tid, n int, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	_, err := unix.PtracePokeUser(tid, uintptr(debugRegOff+n*8), buf)
	return err
}

// dr7For builds the DR7 value enabling the slots thread tid uses.
func (b *Backend) dr7For(tid int) uint64 {
	var v uint64
	for i, s := range b.hw {
		if s == nil || !s.tids[tid] {
			continue
		}
		var rw, ln uint64
		switch s.kind {
		case platform.WatchExecute:
			rw = 0
		case platform.WatchWrite:
			rw = 1
		default:
			// x86 has no read-only condition
			rw = 3
		}
		switch s.size {
		case 2:
			ln = 1
		case 4:
			ln = 3
		case 8:
			ln = 2
		}
		if s.kind == platform.WatchExecute {
			ln = 0
		}
		v |= 1 << (uint(i) * 2)
		v |= (rw | ln<<2) << (16 + uint(i)*4)
	}
	return v
}

func validWatch(addr uint64, size int, kind platform.WatchKind) error {
	switch size {
	case 1, 2, 4, 8:
	default:
		if kind != platform.WatchExecute {
			return fmt.Errorf("watch size %d: %w", size, errcode.InvalidArgument)
		}
	}
	if kind != platform.WatchExecute && addr%uint64(size) != 0 {
		return fmt.Errorf("unaligned watch %#x/%d: %w", addr, size, errcode.InvalidArgument)
	}
	return nil
}

func (b *Backend) SetHardwareBreakpoint(pid, tid int, addr uint64, size int, kind platform.WatchKind) (int, error) {
	if err := validWatch(addr, size, kind); err != nil {
		return -1, err
	}

	slot := -1
	for i, s := range b.hw {
		if s != nil && s.matches(addr, size, kind) {
			slot = i
			break
		}
	}
	if slot < 0 {
		for i, s := range b.hw {
			if s == nil {
				slot = i
				b.hw[i] = &hwSlot{addr: addr, size: size, kind: kind, tids: map[int]bool{}}
				break
			}
		}
	}
	if slot < 0 {
		return -1, fmt.Errorf("no free debug register: %w", errcode.Busy)
	}

	s := b.hw[slot]
	s.tids[tid] = true

	var err error
	b.execPtrace(func() {
		if err = pokeDebugReg(tid, slot, addr); err != nil {
			return
		}
		err = pokeDebugReg(tid, dr7, b.dr7For(tid))
	})
	if err != nil {
		b.release(slot, tid)
		return -1, err
	}
	return slot, nil
}

func (b *Backend) ClearHardwareBreakpoint(pid, tid int, slot int) error {
	if slot < 0 || slot >= numDebugSlots || b.hw[slot] == nil || !b.hw[slot].tids[tid] {
		return fmt.Errorf("debug register %d not in use by %d: %w", slot, tid, errcode.NotFound)
	}
	b.release(slot, tid)

	var err error
	b.execPtrace(func() {
		err = pokeDebugReg(tid, dr7, b.dr7For(tid))
	})
	return err
}

func (b *Backend) release(slot, tid int) {
	s := b.hw[slot]
	delete(s.tids, tid)
	if len(s.tids) == 0 {
		b.hw[slot] = nil
	}
}

// firedSlot reads and clears DR6 of tid. It runs on the tracer thread.
func (b *Backend) firedSlot(tid int) (int, uint64, platform.WatchKind, error) {
	status, err := peekDebugReg(tid, dr6)
	if err != nil {
		return -1, 0, 0, err
	}
	if err := pokeDebugReg(tid, dr6, 0); err != nil {
		return -1, 0, 0, err
	}
	for i := 0; i < numDebugSlots; i++ {
		if status&(1<<uint(i)) == 0 || b.hw[i] == nil {
			continue
		}
		return i, b.hw[i].addr, b.hw[i].kind, nil
	}
	return -1, 0, 0, nil
}
