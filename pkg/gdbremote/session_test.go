package gdbremote

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
	"github.com/hitzhangjie/dbgstub/pkg/platform"
	"github.com/hitzhangjie/dbgstub/pkg/platform/linux"
	"github.com/hitzhangjie/dbgstub/pkg/platform/platformtest"
	"github.com/hitzhangjie/dbgstub/pkg/platform/windows"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

const testPid = 100

type harness struct {
	s   *Session
	b   *platformtest.Backend
	out *bytes.Buffer
}

func newHarness(t *testing.T, table platform.EventTable, kind target.Kind, tids ...int) *harness {
	t.Helper()
	return attachHarness(t, platformtest.New(testPid, table, tids...), kind)
}

func attachHarness(t *testing.T, b *platformtest.Backend, kind target.Kind, opts ...target.Option) *harness {
	t.Helper()
	proc, err := target.Attach(b, testPid, kind, opts...)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	conn := NewConn(stream{strings.NewReader(""), out}, testLog())
	conn.SetAck(false)
	return &harness{s: NewSession(conn, proc, Config{}, testLog()), b: b, out: out}
}

// written decodes what the session has sent since the last call.
// Notifications are prefixed with '%'.
func (h *harness) written(t *testing.T) []string {
	t.Helper()
	c := NewConn(stream{bytes.NewReader(h.out.Bytes()), io.Discard}, testLog())
	c.SetAck(false)
	h.out.Reset()

	var frames []string
	for {
		pkt, err := c.ReadPacket()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		if pkt.Kind == PacketNotification {
			frames = append(frames, "%"+string(pkt.Payload))
			continue
		}
		frames = append(frames, string(pkt.Payload))
	}
}

// exchange dispatches one command and returns everything it wrote.
func (h *harness) exchange(t *testing.T, cmd string) []string {
	t.Helper()
	require.NoError(t, h.s.dispatch([]byte(cmd)))
	return h.written(t)
}

// reply dispatches one command that must be answered by exactly one reply.
func (h *harness) reply(t *testing.T, cmd string) string {
	t.Helper()
	frames := h.exchange(t, cmd)
	require.Len(t, frames, 1, "replies to %q", cmd)
	return frames[0]
}

func (h *harness) poll(t *testing.T) []string {
	t.Helper()
	require.NoError(t, h.s.poll())
	return h.written(t)
}

func (h *harness) thread(t *testing.T, tid int) *target.Thread {
	t.Helper()
	th, ok := h.s.Process().Thread(tid)
	require.True(t, ok, "thread %d", tid)
	return th
}

func (h *harness) states() map[int]target.ThreadState {
	m := map[int]target.ThreadState{}
	for _, th := range h.s.Process().Threads() {
		m[th.Tid] = th.State()
	}
	return m
}

func monitorCmd(line string) string {
	return "qRcmd," + hex.EncodeToString([]byte(line))
}

func monitorOutput(t *testing.T, reply string) string {
	t.Helper()
	out, err := hex.DecodeString(reply)
	require.NoError(t, err, "reply %q", reply)
	return string(out)
}

func linuxStop(tid int, sig int) *linux.WaitEvent {
	return &linux.WaitEvent{Pid: testPid, Tid: tid, Kind: linux.StatusStopped, Signal: sig}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		payload string
		name    string
		args    string
	}{
		{payload: "qSupported:swbreak+;hwbreak+", name: "qSupported", args: "swbreak+;hwbreak+"},
		{payload: "vCont;c:1", name: "vCont", args: "c:1"},
		{payload: "vCont?", name: "vCont?", args: ""},
		{payload: "qRcmd,74", name: "qRcmd", args: "74"},
		{payload: "m1000,4", name: "m", args: "1000,4"},
		{payload: "Hg-1", name: "H", args: "g-1"},
		{payload: "?", name: "?", args: ""},
	}
	for _, tt := range tests {
		name, args := splitCommand([]byte(tt.payload))
		assert.Equal(t, tt.name, name, tt.payload)
		assert.Equal(t, tt.args, string(args), tt.payload)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	assert.Equal(t, "", h.reply(t, "qOffsets"))
	assert.Equal(t, "", h.reply(t, "jThreadsInfo"))
}

func TestStopReasonAfterBreakpointException(t *testing.T) {
	h := newHarness(t, windows.Table{}, target.ATTACH, 1)
	th := h.thread(t, 1)

	assert.Empty(t, h.exchange(t, "c"), "the reply to c is the next stop")
	assert.Equal(t, target.ThreadRunning, th.State())

	h.b.Queue(&windows.DebugEvent{
		Code:      windows.ExceptionDebugEvent,
		Pid:       testPid,
		Tid:       1,
		Exception: &windows.ExceptionInfo{Code: windows.ExceptionBreakpoint, Address: 0x401000},
	})
	assert.Equal(t, []string{"S05"}, h.poll(t))

	assert.Equal(t, target.ThreadStopped, th.State())
	trap, err := th.Trap()
	require.NoError(t, err)
	assert.Equal(t, platform.EventTrap, trap.Event)
	assert.Equal(t, platform.ReasonNone, trap.Reason)

	assert.Equal(t, "S05", h.reply(t, "?"))
	assert.Equal(t, target.ProcessStopped, h.s.Process().State())
}

func TestStopReasonInitial(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	assert.Equal(t, "S05", h.reply(t, "?"))

	h = newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)
	assert.Equal(t, "T05thread:64;", h.reply(t, "?"))
}

func TestResumeStoppedAndSteppedThreads(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)

	assert.Equal(t, "OK", h.reply(t, "Hc65"))
	assert.Empty(t, h.exchange(t, "s"))
	assert.Equal(t, target.ThreadStopped, h.thread(t, testPid).State(), "a step moves the selected thread only")
	assert.Equal(t, target.ThreadRunning, h.thread(t, testPid+1).State())

	h.b.Queue(linuxStop(testPid+1, platform.SIGTRAP))
	assert.Equal(t, []string{"T05thread:65;reason:trace;"}, h.poll(t))
	assert.Equal(t, target.ThreadStepped, h.thread(t, testPid+1).State())

	assert.Equal(t, "OK", h.reply(t, "Hc-1"))
	assert.Empty(t, h.exchange(t, "c"))
	assert.Equal(t, map[int]target.ThreadState{
		testPid:     target.ThreadRunning,
		testPid + 1: target.ThreadRunning,
	}, h.states())
	assert.Equal(t, target.ProcessRunning, h.s.Process().State())
	assert.Len(t, h.b.Resumed, 3)
}

func TestContinueSignalToSelectedThread(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)

	assert.Empty(t, h.exchange(t, "C1e"))
	require.Len(t, h.b.Resumed, 2)
	assert.Equal(t, testPid, h.b.Resumed[0].Tid)
	assert.Equal(t, platform.SIGUSR1, h.b.Resumed[0].Req.Signal)
	assert.Equal(t, 0, h.b.Resumed[1].Req.Signal)
}

func TestContinueUnsupportedSignal(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	h.b.Caps.ResumeSignal = false
	h.b.Caps.ResumeAddress = false

	assert.Equal(t, "E5f", h.reply(t, "C0b"))
	assert.Equal(t, "E5f", h.reply(t, "c401000"))
	assert.Empty(t, h.b.Resumed)
	assert.Equal(t, target.ThreadStopped, h.thread(t, testPid).State())

	// a plain continue still works
	assert.Empty(t, h.exchange(t, "c"))
	assert.Len(t, h.b.Resumed, 1)
}

func TestContinueFailureStopsResumedThreads(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)
	h.b.ResumeErrs[testPid+1] = errcode.ProcessNotFound

	assert.Equal(t, "E03", h.reply(t, "c"))
	assert.Equal(t, []int{testPid}, h.b.Suspended)
	assert.Equal(t, map[int]target.ThreadState{
		testPid:     target.ThreadStopped,
		testPid + 1: target.ThreadStopped,
	}, h.states())
	assert.False(t, h.s.Process().Running())
}

func TestContinueFailureWithThreadLeftRunning(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)
	h.b.ResumeErrs[testPid+1] = errcode.ProcessNotFound
	h.b.SuspendErr = platformtest.ErrInjected

	assert.Empty(t, h.exchange(t, "c"), "the running thread owes a stop reply")
	assert.Equal(t, target.ThreadRunning, h.thread(t, testPid).State())

	h.b.SuspendErr = nil
	h.b.Queue(linuxStop(testPid, platform.SIGSEGV))
	frames := h.poll(t)
	require.Len(t, frames, 1)
	assert.True(t, strings.HasPrefix(frames[0], "T0bthread:64;"), frames[0])
}

func TestVContFailureStopsResumedThreads(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)
	h.b.ResumeErrs[testPid+1] = errcode.ProcessNotFound

	assert.Equal(t, "E03", h.reply(t, "vCont;c"))
	assert.Equal(t, []int{testPid}, h.b.Suspended)
	assert.False(t, h.s.Process().Running())
}

func TestResumeWhileRunning(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	assert.Equal(t, "OK", h.reply(t, "Hc64"))
	assert.Empty(t, h.exchange(t, "c"))
	assert.Equal(t, "E10", h.reply(t, "c"))
}

func TestReadMemoryOutOfRange(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)
	h.b.Map(0x1000, []byte{0xde, 0xad, 0xbe, 0xef})
	before := h.states()

	assert.Equal(t, "deadbeef", h.reply(t, "m1000,4"))
	assert.Equal(t, "adbe", h.reply(t, "m1001,2"))
	assert.Equal(t, "E0e", h.reply(t, "m5000,4"))
	assert.Equal(t, "", h.reply(t, "m1000,0"))
	assert.Equal(t, "E16", h.reply(t, "m1000"))

	assert.Equal(t, before, h.states())
	assert.Equal(t, target.ProcessStopped, h.s.Process().State())
}

func TestNonStopReadMemoryWhileRunning(t *testing.T) {
	b := platformtest.New(testPid, linux.Table{}, testPid, testPid+1)
	mem := make([]byte, 0x100)
	b.Map(0x1000, mem)
	h := attachHarness(t, b, target.EXEC, target.WithCacheLines(8))

	assert.Equal(t, "OK", h.reply(t, "QNonStop:1"))
	assert.Equal(t, "OK", h.reply(t, "vCont;c:65"))
	assert.Equal(t, "00", h.reply(t, "m1000,1"))

	mem[0] = 0xaa
	assert.Equal(t, "aa", h.reply(t, "m1000,1"), "memory of a running process is read afresh")
}

func TestWriteMemory(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	mem := make([]byte, 4)
	h.b.Map(0x2000, mem)

	assert.Equal(t, "OK", h.reply(t, "M2000,2:abcd"))
	assert.Equal(t, "OK", h.reply(t, "X2002,2:\x01\x02"))
	assert.Equal(t, []byte{0xab, 0xcd, 0x01, 0x02}, mem)

	assert.Equal(t, "OK", h.reply(t, "X2000,0:"))
	assert.Equal(t, "E16", h.reply(t, "M2000,3:ab"))
	assert.Equal(t, "E16", h.reply(t, "M2000,1:zz"))
	assert.Equal(t, "E0e", h.reply(t, "M3000,1:00"))
}

func TestRegisters(t *testing.T) {
	h := newHarness(t, windows.Table{}, target.ATTACH, 1)
	h.b.Regs[1] = []byte{0xde, 0xad, 0xbe, 0xef}

	assert.Equal(t, "deadbeef", h.reply(t, "g"))
	assert.Equal(t, "OK", h.reply(t, "G01020304"))
	assert.Equal(t, []byte{1, 2, 3, 4}, h.b.Regs[1])
	assert.Equal(t, "01020304", h.reply(t, "g"))
	assert.Equal(t, "E16", h.reply(t, "Gzz"))
}

func TestBreakpointPackets(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	text := []byte{0x55, 0x48, 0x89, 0xe5}
	h.b.Map(0x401000, text)

	assert.Equal(t, "OK", h.reply(t, "Z0,401000,1"))
	assert.Equal(t, byte(0xCC), text[0])
	assert.Equal(t, "554889e5", h.reply(t, "m401000,4"), "breakpoints are masked")

	assert.Equal(t, "OK", h.reply(t, "z0,401000,1"))
	assert.Equal(t, byte(0x55), text[0])
	assert.Equal(t, "E02", h.reply(t, "z0,401000,1"))

	assert.Equal(t, "OK", h.reply(t, "Z1,401000,1"))
	assert.Len(t, h.b.HwSlots[testPid], 1)
	assert.Equal(t, "OK", h.reply(t, "Z2,601000,8"))
	assert.Len(t, h.b.HwSlots[testPid], 2)
	assert.Equal(t, "OK", h.reply(t, "z2,601000,8"))
	assert.Len(t, h.b.HwSlots[testPid], 1)

	assert.Equal(t, "", h.reply(t, "Z5,401000,1"), "unknown kind")
	assert.Equal(t, "E16", h.reply(t, "Z0,401000"))
	assert.Equal(t, "E0e", h.reply(t, "Z0,901000,1"))

	h.b.Caps.BreakpointOpcode = nil
	assert.Equal(t, "", h.reply(t, "Z0,401000,1"), "no software breakpoints on this platform")
}

func TestThreadQueries(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)

	assert.Equal(t, "m64,65", h.reply(t, "qfThreadInfo"))
	assert.Equal(t, "l", h.reply(t, "qsThreadInfo"))
	assert.Equal(t, "QC64", h.reply(t, "qC"))
	assert.Equal(t, "OK", h.reply(t, "Hg65"))
	assert.Equal(t, "QC65", h.reply(t, "qC"))
	assert.Equal(t, "E02", h.reply(t, "Hg99"))
	assert.Equal(t, "OK", h.reply(t, "Hgp64.64"))
	assert.Equal(t, "QC64", h.reply(t, "qC"))

	assert.Equal(t, "OK", h.reply(t, "T64"))
	assert.Equal(t, "E02", h.reply(t, "T99"))
	assert.Equal(t, "0", h.reply(t, "qAttached"))
	assert.Equal(t, hex.EncodeToString([]byte("stopped")), h.reply(t, "qThreadExtraInfo,65"))

	supported := h.reply(t, "qSupported:multiprocess+;swbreak+")
	for _, feature := range []string{"PacketSize=4000", "QStartNoAckMode+", "QNonStop+", "swbreak+", "hwbreak+", "vContSupported+"} {
		assert.Contains(t, strings.Split(supported, ";"), feature)
	}
	assert.Equal(t, "vCont;c;C;s;S;t", h.reply(t, "vCont?"))
}

func TestVContActions(t *testing.T) {
	actions, err := parseActions([]byte("s:65;C1e:64;c"))
	require.NoError(t, err)
	assert.Equal(t, []target.Action{
		{Kind: target.ActionStep, Tid: testPid + 1},
		{Kind: target.ActionContinue, Signal: platform.SIGUSR1, Tid: testPid},
		{Kind: target.ActionContinue, Tid: target.AllThreads},
	}, actions)

	_, err = parseActions([]byte("r1000,2000"))
	assert.Error(t, err)
	_, err = parseActions([]byte("c;;s"))
	assert.Error(t, err)
}

func TestVContStepOneContinueRest(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)

	assert.Empty(t, h.exchange(t, "vCont;s:65;c"))
	require.Len(t, h.b.Resumed, 2)
	for _, call := range h.b.Resumed {
		assert.Equal(t, call.Tid == testPid+1, call.Req.Step, "thread %d", call.Tid)
	}

	h.b.Queue(linuxStop(testPid+1, platform.SIGTRAP))
	assert.Equal(t, []string{"T05thread:65;reason:trace;"}, h.poll(t))
	assert.Equal(t, []int{testPid}, h.b.Suspended, "all-stop stops the other threads")
	assert.False(t, h.s.Process().Running())
}

func TestNonStopNotifications(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)

	assert.Equal(t, "OK", h.reply(t, "QNonStop:1"))
	assert.Equal(t, "OK", h.reply(t, "vCont;c"))
	assert.Equal(t, target.ProcessRunning, h.s.Process().State())

	h.b.Queue(linuxStop(testPid, platform.SIGTRAP), linuxStop(testPid+1, platform.SIGTRAP))
	assert.Equal(t, []string{"%Stop:T05thread:64;"}, h.poll(t), "one notification at a time")
	assert.Empty(t, h.b.Suspended, "non-stop leaves other threads alone")

	assert.Equal(t, "T05thread:65;", h.reply(t, "vStopped"))
	assert.Equal(t, "OK", h.reply(t, "vStopped"))

	// the next stop is notified again
	assert.Equal(t, "OK", h.reply(t, "vCont;c:64"))
	h.b.Queue(linuxStop(testPid, platform.SIGTRAP))
	assert.Equal(t, []string{"%Stop:T05thread:64;"}, h.poll(t))
}

func TestNonStopStopAction(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)

	assert.Equal(t, "OK", h.reply(t, "QNonStop:1"))
	assert.Equal(t, "OK", h.reply(t, "vCont;c"))
	assert.Equal(t, []string{"%Stop:T00thread:65;", "OK"}, h.exchange(t, "vCont;t:65"))
	assert.Equal(t, []int{testPid + 1}, h.b.Suspended)
	assert.Equal(t, target.ThreadRunning, h.thread(t, testPid).State())
	assert.Equal(t, target.ThreadStopped, h.thread(t, testPid+1).State())

	assert.Equal(t, "OK", h.reply(t, "vStopped"))
}

func TestNonStopStopReason(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)

	assert.Equal(t, "OK", h.reply(t, "QNonStop:1"))
	// nothing has been reported for either thread yet
	assert.Equal(t, "T00thread:64;", h.reply(t, "?"))
	assert.Equal(t, "T00thread:65;", h.reply(t, "vStopped"))
	assert.Equal(t, "OK", h.reply(t, "vStopped"))
	assert.Equal(t, "E16", h.reply(t, "QNonStop:2"))
}

func TestInterrupt(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)

	require.NoError(t, h.s.interrupt())
	assert.Zero(t, h.b.Interrupts, "nothing to interrupt")

	assert.Empty(t, h.exchange(t, "c"))
	require.NoError(t, h.s.interrupt())
	assert.Equal(t, 1, h.b.Interrupts)

	ev := linuxStop(testPid, platform.SIGSTOP)
	ev.Interrupted = true
	h.b.Queue(ev)
	assert.Equal(t, []string{"S02"}, h.poll(t))
}

func TestProcessExit(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	assert.Empty(t, h.exchange(t, "c"))

	h.b.Queue(&linux.WaitEvent{Pid: testPid, Tid: testPid, Kind: linux.StatusExited, ExitCode: 3})
	assert.Equal(t, []string{"W03"}, h.poll(t))
	assert.Equal(t, "W03", h.reply(t, "?"))
	assert.Equal(t, target.ProcessExited, h.s.Process().State())
}

func TestProcessTerminated(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	assert.Empty(t, h.exchange(t, "c"))

	h.b.Queue(&linux.WaitEvent{Pid: testPid, Tid: testPid, Kind: linux.StatusSignaled, Signal: platform.SIGSEGV})
	assert.Equal(t, []string{"X0b"}, h.poll(t))
}

func TestHousekeepingIsNotReported(t *testing.T) {
	h := newHarness(t, windows.Table{}, target.EXEC, 1)
	assert.Empty(t, h.exchange(t, "c"))

	h.b.Queue(&windows.DebugEvent{
		Code: windows.LoadDllDebugEvent, Pid: testPid, Tid: 1,
		LoadDll: &windows.LoadDllInfo{FileHandle: 0x44},
	})
	assert.Empty(t, h.poll(t))
	assert.Equal(t, target.ThreadRunning, h.thread(t, 1).State())
	assert.Equal(t, 1, h.b.ReleaseCount(0x44))
}

func TestForeignStopSignalIsReported(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	assert.Empty(t, h.exchange(t, "c"))

	h.b.Queue(linuxStop(testPid, platform.SIGSTOP))
	assert.Equal(t, []string{"S11"}, h.poll(t))
}

func TestUnknownEventAborts(t *testing.T) {
	h := newHarness(t, windows.Table{}, target.EXEC, 1)
	assert.Empty(t, h.exchange(t, "c"))

	h.b.Queue(&windows.DebugEvent{Code: 42, Pid: testPid, Tid: 1})
	err := h.s.poll()
	assert.True(t, target.IsInvariant(err))
	assert.Empty(t, h.out.Bytes(), "nothing is written after a broken invariant")
}

func TestDetach(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.ATTACH, testPid)
	assert.Equal(t, "1", h.reply(t, "qAttached"))
	assert.Equal(t, "E03", h.reply(t, "D;1"))
	assert.False(t, h.s.Done())

	assert.Equal(t, "OK", h.reply(t, "D"))
	assert.True(t, h.b.Detached)
	assert.True(t, h.s.Done())
	require.NoError(t, h.s.teardown())
}

func TestKill(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	assert.Empty(t, h.exchange(t, "k"), "k has no reply")
	assert.True(t, h.b.Killed)
	assert.True(t, h.s.Done())
	assert.Equal(t, target.ProcessTerminated, h.s.Process().State())
}

func TestExtendedRun(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	var launched []string
	h.b.LaunchFn = func(cmd string, args []string) (int, error) {
		launched = append([]string{cmd}, args...)
		return testPid, nil
	}
	h.s.cfg.Command = "/bin/true"

	assert.Equal(t, "", h.reply(t, "vRun;"), "only in extended mode")
	assert.Equal(t, "OK", h.reply(t, "!"))

	assert.Equal(t, "OK", h.reply(t, "vKill;64"))
	assert.True(t, h.b.Killed)
	assert.False(t, h.s.Done(), "extended mode outlives the process")

	old := h.s.Process()
	assert.Equal(t, "S05", h.reply(t, "vRun;"))
	assert.NotSame(t, old, h.s.Process())
	assert.Equal(t, []string{"/bin/true"}, launched)
	assert.Equal(t, target.ProcessStopped, h.s.Process().State())

	prog := hex.EncodeToString([]byte("/bin/echo"))
	arg := hex.EncodeToString([]byte("hi"))
	assert.Equal(t, "S05", h.reply(t, "vRun;"+prog+";"+arg))
	assert.Equal(t, []string{"/bin/echo", "hi"}, launched)

	assert.Empty(t, h.exchange(t, "R"), "R has no reply")
	assert.Equal(t, []string{"/bin/echo", "hi"}, launched)
}

func TestNoAckMode(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid)
	h.s.conn.SetAck(true)
	assert.Equal(t, "OK", h.reply(t, "QStartNoAckMode"))
	assert.False(t, h.s.conn.Ack())
}

func TestMonitor(t *testing.T) {
	h := newHarness(t, linux.Table{}, target.EXEC, testPid, testPid+1)
	h.b.Map(0x401000, bytes.Repeat([]byte{0x90}, 1024))

	out := monitorOutput(t, h.reply(t, monitorCmd("threads")))
	assert.Contains(t, out, "100")
	assert.Contains(t, out, "101")
	assert.Contains(t, out, "stopped")

	out = monitorOutput(t, h.reply(t, monitorCmd("disas 401000 -n 2")))
	assert.Equal(t, 2, strings.Count(out, "nop"), out)
	assert.Contains(t, out, "0x401001:")

	assert.Equal(t, "OK", h.reply(t, "Z0,401000,1"))
	out = monitorOutput(t, h.reply(t, monitorCmd("bs")))
	assert.Contains(t, out, "0x401000")
	assert.Contains(t, out, "sw")

	out = monitorOutput(t, h.reply(t, monitorCmd("help")))
	assert.Contains(t, out, "- [breaks]")
	assert.Contains(t, out, "- [info]")
	assert.Contains(t, out, "disass")

	out = monitorOutput(t, h.reply(t, monitorCmd("info")))
	assert.Contains(t, out, "inferior")

	out = monitorOutput(t, h.reply(t, monitorCmd("bogus")))
	assert.Contains(t, out, "error: unknown command")

	out = monitorOutput(t, h.reply(t, monitorCmd("disas")))
	assert.Contains(t, out, "error:", "no address and no stop")

	assert.Equal(t, "E16", h.reply(t, "qRcmd,zz"))
}
