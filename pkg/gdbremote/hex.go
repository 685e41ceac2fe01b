package gdbremote

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

// thread ids with a special meaning in H, vCont and friends
const (
	threadAll = target.AllThreads
	threadAny = 0
)

func appendHex(dst, data []byte) []byte {
	n := len(dst)
	dst = append(dst, make([]byte, hex.EncodedLen(len(data)))...)
	hex.Encode(dst[n:], data)
	return dst
}

func decodeHex(s []byte) ([]byte, error) {
	out := make([]byte, hex.DecodedLen(len(s)))
	if _, err := hex.Decode(out, s); err != nil {
		return nil, fmt.Errorf("hex %q: %w", truncate(s), errcode.InvalidArgument)
	}
	return out, nil
}

func parseUint(s []byte) (uint64, error) {
	v, err := strconv.ParseUint(string(s), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("number %q: %w", s, errcode.InvalidArgument)
	}
	return v, nil
}

// parseAddrLen parses "addr,length".
func parseAddrLen(s []byte) (uint64, int, error) {
	a, l, ok := bytes.Cut(s, []byte{','})
	if !ok {
		return 0, 0, fmt.Errorf("address range %q: %w", s, errcode.InvalidArgument)
	}
	addr, err := parseUint(a)
	if err != nil {
		return 0, 0, err
	}
	n, err := parseUint(l)
	if err != nil {
		return 0, 0, err
	}
	if n > 1<<20 {
		return 0, 0, fmt.Errorf("length %d: %w", n, errcode.InvalidArgument)
	}
	return addr, int(n), nil
}

// parseThreadID parses a thread id: "-1" for all threads, "0" for any
// thread, a hex id, or the multiprocess form "p<pid>.<tid>".
func parseThreadID(s []byte) (int, error) {
	if len(s) > 0 && s[0] == 'p' {
		_, tid, ok := bytes.Cut(s[1:], []byte{'.'})
		if !ok {
			return threadAll, nil
		}
		s = tid
	}
	if string(s) == "-1" {
		return threadAll, nil
	}
	v, err := strconv.ParseUint(string(s), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("thread id %q: %w", s, errcode.InvalidArgument)
	}
	return int(v), nil
}

func formatThreadID(tid int) string {
	return strconv.FormatInt(int64(tid), 16)
}
