package gdbremote

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hitzhangjie/dbgstub/pkg/platform"
	"github.com/hitzhangjie/dbgstub/pkg/platform/linux"
	"github.com/hitzhangjie/dbgstub/pkg/platform/platformtest"
	"github.com/hitzhangjie/dbgstub/pkg/platform/windows"
	"github.com/hitzhangjie/dbgstub/pkg/target"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer(t *testing.T, table platform.EventTable, kind target.Kind, tids ...int) (*Server, *platformtest.Backend, net.Conn) {
	t.Helper()
	b := platformtest.New(testPid, table, tids...)
	proc, err := target.Attach(b, testPid, kind)
	require.NoError(t, err)

	server, client := net.Pipe()
	sess := NewSession(NewConn(server, testLog()), proc, Config{}, testLog())
	return NewServer(sess, time.Millisecond, testLog()), b, client
}

func TestServeAckFlow(t *testing.T) {
	srv, b, client := newTestServer(t, linux.Table{}, target.ATTACH, testPid)
	defer client.Close()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(context.Background()) }()

	c := NewConn(client, testLog())
	require.NoError(t, c.WritePacket([]byte("QStartNoAckMode")))

	pkt, err := c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketAck, pkt.Kind)

	// acked by c itself
	pkt, err = c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(pkt.Payload))
	c.SetAck(false)

	require.NoError(t, c.WritePacket([]byte("qAttached")))
	pkt, err = c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketCommand, pkt.Kind, "no more acks")
	assert.Equal(t, "1", string(pkt.Payload))

	require.NoError(t, c.WritePacket([]byte("D")))
	pkt, err = c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(pkt.Payload))

	_, err = c.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, <-errc)
	assert.True(t, b.Detached)
	assert.False(t, b.Killed)
}

func TestServeStopReply(t *testing.T) {
	srv, b, client := newTestServer(t, linux.Table{}, target.EXEC, testPid)
	defer client.Close()
	b.OnResume = func(b *platformtest.Backend, tid int, req platform.ResumeRequest) {
		b.Queue(&linux.WaitEvent{Pid: testPid, Tid: tid, Kind: linux.StatusStopped, Signal: platform.SIGTRAP, SigCode: 0x80, Addr: platform.AddressOf(0x401000)})
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(context.Background()) }()

	c := NewConn(client, testLog())
	c.SetAck(false)
	require.NoError(t, c.WritePacket([]byte("c")))

	// the ack of c, then the stop found by polling
	pkt, err := c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketAck, pkt.Kind)
	pkt, err = c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "T05thread:64;swbreak:;", string(pkt.Payload))

	// the client goes away, the launched process is killed
	require.NoError(t, client.Close())
	require.NoError(t, <-errc)
	assert.True(t, b.Killed)
}

func TestServeNack(t *testing.T) {
	srv, _, client := newTestServer(t, linux.Table{}, target.ATTACH, testPid)
	defer client.Close()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(context.Background()) }()

	c := NewConn(client, testLog())
	c.SetAck(false)
	require.NoError(t, c.WritePacket([]byte("qAttached")))

	pkt, err := c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketAck, pkt.Kind)
	pkt, err = c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "1", string(pkt.Payload))

	_, err = client.Write([]byte("-"))
	require.NoError(t, err)
	pkt, err = c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "1", string(pkt.Payload), "retransmitted")

	require.NoError(t, client.Close())
	require.NoError(t, <-errc)
}

func TestServeUnknownEventAborts(t *testing.T) {
	srv, b, client := newTestServer(t, windows.Table{}, target.EXEC, 1)
	defer client.Close()
	b.Queue(&windows.DebugEvent{Code: 42, Pid: testPid, Tid: 1})

	got := make(chan []byte, 1)
	go func() {
		_, _ = client.Write([]byte(frame('$', "c")))
		data, _ := io.ReadAll(client)
		got <- data
	}()

	err := srv.Serve(context.Background())
	assert.True(t, target.IsInvariant(err), "%v", err)
	assert.Equal(t, "+", string(<-got), "only the ack of c went out")
	assert.True(t, b.Killed)
}

func TestServeCancel(t *testing.T) {
	srv, b, client := newTestServer(t, linux.Table{}, target.ATTACH, testPid)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()

	cancel()
	require.NoError(t, <-errc)
	assert.True(t, b.Detached)
}

func TestAccept(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			c.Close()
		}
	}()

	c, err := Accept(context.Background(), ln)
	require.NoError(t, err)
	c.Close()

	ln, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Accept(ctx, ln)
	assert.ErrorIs(t, err, context.Canceled)
}
