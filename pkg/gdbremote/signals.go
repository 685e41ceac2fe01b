package gdbremote

import "github.com/hitzhangjie/dbgstub/pkg/platform"

// The protocol numbers signals its own way. These are the ones that differ
// from or coincide with the canonical numbering used by the core.
const (
	gdbSIGHUP  = 1
	gdbSIGINT  = 2
	gdbSIGQUIT = 3
	gdbSIGILL  = 4
	gdbSIGTRAP = 5
	gdbSIGABRT = 6
	gdbSIGFPE  = 8
	gdbSIGKILL = 9
	gdbSIGBUS  = 10
	gdbSIGSEGV = 11
	gdbSIGPIPE = 13
	gdbSIGALRM = 14
	gdbSIGTERM = 15
	gdbSIGSTOP = 17
	gdbSIGTSTP = 18
	gdbSIGCONT = 19
	gdbSIGCHLD = 20
	gdbSIGUSR1 = 30
	gdbSIGUSR2 = 31
)

var toGDB = map[int]int{
	platform.SIGHUP:  gdbSIGHUP,
	platform.SIGINT:  gdbSIGINT,
	platform.SIGQUIT: gdbSIGQUIT,
	platform.SIGILL:  gdbSIGILL,
	platform.SIGTRAP: gdbSIGTRAP,
	platform.SIGABRT: gdbSIGABRT,
	platform.SIGBUS:  gdbSIGBUS,
	platform.SIGFPE:  gdbSIGFPE,
	platform.SIGKILL: gdbSIGKILL,
	platform.SIGUSR1: gdbSIGUSR1,
	platform.SIGSEGV: gdbSIGSEGV,
	platform.SIGUSR2: gdbSIGUSR2,
	platform.SIGPIPE: gdbSIGPIPE,
	platform.SIGALRM: gdbSIGALRM,
	platform.SIGTERM: gdbSIGTERM,
	platform.SIGCHLD: gdbSIGCHLD,
	platform.SIGCONT: gdbSIGCONT,
	platform.SIGSTOP: gdbSIGSTOP,
	platform.SIGTSTP: gdbSIGTSTP,
}

var fromGDB = func() map[int]int {
	m := make(map[int]int, len(toGDB))
	for host, gdb := range toGDB {
		m[gdb] = host
	}
	return m
}()

// gdbSignal maps a canonical signal to its protocol number. Unknown signals
// are passed through unchanged.
func gdbSignal(sig int) int {
	if s, ok := toGDB[sig]; ok {
		return s
	}
	return sig
}

// hostSignal is the inverse of gdbSignal.
func hostSignal(sig int) int {
	if s, ok := fromGDB[sig]; ok {
		return s
	}
	return sig
}
