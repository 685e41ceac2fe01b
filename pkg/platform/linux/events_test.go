package linux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

const pid = 100

func stop(sig, code int) *WaitEvent {
	return &WaitEvent{Pid: pid, Tid: pid, Kind: StatusStopped, Signal: sig, SigCode: code}
}

func TestClassify(t *testing.T) {
	addr := platform.AddressOf(0x401000)

	tests := []struct {
		name     string
		ev       *WaitEvent
		stepping bool
		want     platform.Trap
	}{
		{name: "kernel trap", ev: &WaitEvent{Pid: pid, Tid: pid, Kind: StatusStopped, Signal: platform.SIGTRAP, SigCode: siKernel, Addr: addr},
			want: platform.Trap{Event: platform.EventBreakpoint, Signal: platform.SIGTRAP, Address: addr}},
		{name: "int3", ev: stop(platform.SIGTRAP, trapBrkpt),
			want: platform.Trap{Event: platform.EventBreakpoint, Signal: platform.SIGTRAP}},
		{name: "single step", ev: stop(platform.SIGTRAP, trapTrace),
			want: platform.Trap{Event: platform.EventStep, Signal: platform.SIGTRAP}},
		{name: "step requested", ev: stop(platform.SIGTRAP, siUser), stepping: true,
			want: platform.Trap{Event: platform.EventStep, Signal: platform.SIGTRAP}},
		{name: "user trap", ev: stop(platform.SIGTRAP, siUser),
			want: platform.Trap{Event: platform.EventTrap, Signal: platform.SIGTRAP}},
		{name: "tkill trap", ev: stop(platform.SIGTRAP, siTkill),
			want: platform.Trap{Event: platform.EventTrap, Signal: platform.SIGTRAP}},
		{name: "hardware execute", ev: &WaitEvent{Pid: pid, Tid: pid, Kind: StatusStopped, Signal: platform.SIGTRAP, SigCode: trapHwbkpt, WatchKind: platform.WatchExecute, Addr: addr},
			want: platform.Trap{Event: platform.EventBreakpoint, Reason: platform.ReasonHardware, Signal: platform.SIGTRAP, Address: addr}},
		{name: "write watch", ev: &WaitEvent{Pid: pid, Tid: pid, Kind: StatusStopped, Signal: platform.SIGTRAP, SigCode: trapHwbkpt, WatchKind: platform.WatchWrite, Addr: addr},
			want: platform.Trap{Event: platform.EventWatchpoint, Reason: platform.ReasonWriteWatch, Signal: platform.SIGTRAP, Address: addr}},
		{name: "exec", ev: &WaitEvent{Pid: pid, Tid: pid, Kind: StatusStopped, Signal: platform.SIGTRAP, TrapCause: eventExec},
			want: platform.Trap{Event: platform.EventTrap, Reason: platform.ReasonExec, Signal: platform.SIGTRAP}},
		{name: "segfault", ev: &WaitEvent{Pid: pid, Tid: pid, Kind: StatusStopped, Signal: platform.SIGSEGV, Addr: addr},
			want: platform.Trap{Event: platform.EventCrash, Signal: platform.SIGSEGV, Address: addr}},
		{name: "interrupt", ev: &WaitEvent{Pid: pid, Tid: pid, Kind: StatusStopped, Signal: platform.SIGSTOP, Interrupted: true},
			want: platform.Trap{Event: platform.EventTrap, Reason: platform.ReasonInterrupt, Signal: platform.SIGINT}},
		{name: "foreign stop", ev: stop(platform.SIGSTOP, 0),
			want: platform.Trap{Event: platform.EventTrap, Signal: platform.SIGSTOP}},
		{name: "other signal", ev: stop(platform.SIGUSR1, 0),
			want: platform.Trap{Event: platform.EventTrap, Signal: platform.SIGUSR1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Table{}.Classify(tt.ev, platform.ClassifyContext{Stepping: tt.stepping})
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Trap)
			assert.Empty(t, c.Release)
		})
	}
}

func TestClassifyUnknown(t *testing.T) {
	events := []*WaitEvent{
		stop(0, 0),
		stop(65, 0),
		stop(platform.SIGTRAP, 42),
		{Pid: pid, Tid: pid, Kind: StatusStopped, Signal: platform.SIGTRAP, TrapCause: 7},
		{Pid: pid, Tid: pid, Kind: StatusExited},
	}
	for _, ev := range events {
		_, err := Table{}.Classify(ev, platform.ClassifyContext{})
		var unknown *platform.UnknownEventError
		assert.ErrorAs(t, err, &unknown, "%+v", ev)
	}
}

func TestLifecycle(t *testing.T) {
	tests := []struct {
		name string
		ev   *WaitEvent
		want platform.Lifecycle
		ok   bool
	}{
		{name: "leader exit", ev: &WaitEvent{Pid: pid, Tid: pid, Kind: StatusExited, ExitCode: 3},
			want: platform.Lifecycle{Kind: platform.ProcessExited, Tid: pid, Status: 3}, ok: true},
		{name: "thread exit", ev: &WaitEvent{Pid: pid, Tid: pid + 1, Kind: StatusExited},
			want: platform.Lifecycle{Kind: platform.ThreadExited, Tid: pid + 1}, ok: true},
		{name: "leader killed", ev: &WaitEvent{Pid: pid, Tid: pid, Kind: StatusSignaled, Signal: platform.SIGKILL},
			want: platform.Lifecycle{Kind: platform.ProcessTerminated, Tid: pid, Status: platform.SIGKILL}, ok: true},
		{name: "clone", ev: &WaitEvent{Pid: pid, Tid: pid, Kind: StatusStopped, Signal: platform.SIGTRAP, TrapCause: eventClone, NewTid: pid + 2},
			want: platform.Lifecycle{Kind: platform.ThreadCreated, Tid: pid + 2, Handle: platform.NoHandle, Reporter: pid}, ok: true},
		{name: "plain stop", ev: stop(platform.SIGTRAP, siKernel), ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc, ok := Table{}.Lifecycle(tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, lc)
		})
	}
}
