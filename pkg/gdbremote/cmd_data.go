package gdbremote

import (
	"bytes"
	"fmt"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
)

func init() {
	register("g", cmdReadRegisters)
	register("G", cmdWriteRegisters)
	register("m", cmdReadMemory)
	register("M", cmdWriteMemory)
	register("X", cmdWriteMemoryBinary)
}

func cmdReadRegisters(s *Session, args []byte) ([]byte, error) {
	t, err := s.thread(s.gThread)
	if err != nil {
		return nil, err
	}
	regs, err := t.Registers()
	if err != nil {
		return nil, err
	}
	return appendHex(nil, regs), nil
}

func cmdWriteRegisters(s *Session, args []byte) ([]byte, error) {
	t, err := s.thread(s.gThread)
	if err != nil {
		return nil, err
	}
	data, err := decodeHex(args)
	if err != nil {
		return nil, err
	}
	if err := t.SetRegisters(data); err != nil {
		return nil, err
	}
	return replyOK, nil
}

// cmdReadMemory answers m addr,length. A partially readable range returns
// what could be read.
func cmdReadMemory(s *Session, args []byte) ([]byte, error) {
	addr, n, err := parseAddrLen(args)
	if err != nil {
		return nil, err
	}
	data, err := s.proc.ReadMemory(addr, n)
	if err != nil {
		return nil, err
	}
	return appendHex(nil, data), nil
}

// cmdWriteMemory answers M addr,length:hex.
func cmdWriteMemory(s *Session, args []byte) ([]byte, error) {
	head, body, ok := bytes.Cut(args, []byte{':'})
	if !ok {
		return nil, fmt.Errorf("M%s: %w", truncate(args), errcode.InvalidArgument)
	}
	addr, n, err := parseAddrLen(head)
	if err != nil {
		return nil, err
	}
	data, err := decodeHex(body)
	if err != nil {
		return nil, err
	}
	return writeMemory(s, addr, n, data)
}

// cmdWriteMemoryBinary answers X addr,length:data, data already unescaped
// by the codec.
func cmdWriteMemoryBinary(s *Session, args []byte) ([]byte, error) {
	head, body, ok := bytes.Cut(args, []byte{':'})
	if !ok {
		return nil, fmt.Errorf("X%s: %w", truncate(args), errcode.InvalidArgument)
	}
	addr, n, err := parseAddrLen(head)
	if err != nil {
		return nil, err
	}
	return writeMemory(s, addr, n, body)
}

func writeMemory(s *Session, addr uint64, n int, data []byte) ([]byte, error) {
	if len(data) != n {
		return nil, fmt.Errorf("write %d bytes, length says %d: %w", len(data), n, errcode.InvalidArgument)
	}
	if err := s.proc.WriteMemory(addr, data); err != nil {
		return nil, err
	}
	return replyOK, nil
}
