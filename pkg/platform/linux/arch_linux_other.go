//go:build linux && !amd64

package linux

import (
	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

// Register access is only implemented for amd64. Without a breakpoint
// opcode the core does not offer software breakpoints.
var breakpointOpcode []byte

const numDebugSlots = 0

type hwSlot struct{}

func readRegisters(tid int) ([]byte, error)     { return nil, errcode.Unsupported }
func writeRegisters(tid int, data []byte) error { return errcode.Unsupported }
func getPC(tid int) (uint64, error)             { return 0, errcode.Unsupported }
func setPC(tid int, pc uint64) error            { return errcode.Unsupported }

func (b *Backend) SetHardwareBreakpoint(pid, tid int, addr uint64, size int, kind platform.WatchKind) (int, error) {
	return -1, errcode.Unsupported
}

func (b *Backend) ClearHardwareBreakpoint(pid, tid int, slot int) error {
	return errcode.Unsupported
}

func (b *Backend) firedSlot(tid int) (int, uint64, platform.WatchKind, error) {
	return -1, 0, 0, nil
}
