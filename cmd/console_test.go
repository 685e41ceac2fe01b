package cmd

import (
	"bytes"
	"encoding/hex"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dbgstub/pkg/gdbremote"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeStub answers a handful of packets until the connection closes.
func fakeStub(nc net.Conn) {
	log := logrus.NewEntry(logrus.StandardLogger())
	stub := gdbremote.NewConn(nc, log)
	for {
		pkt, err := stub.ReadPacket()
		if err != nil {
			return
		}
		switch pkt.Kind {
		case gdbremote.PacketInterrupt:
			stub.WriteNotification([]byte("Stop:S05"))
		case gdbremote.PacketCommand:
			switch string(pkt.Payload) {
			case "qAttached":
				stub.WritePacket([]byte("1"))
			case "qRcmd," + hex.EncodeToString([]byte("threads")):
				stub.WritePacket([]byte(hex.EncodeToString([]byte("100  stopped\n"))))
			case "QStartNoAckMode":
				stub.SetAck(false)
				stub.WritePacket([]byte("OK"))
			default:
				stub.WritePacket(nil)
			}
		}
	}
}

func TestConsole(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	stubDone := make(chan struct{})
	go func() {
		defer close(stubDone)
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		fakeStub(nc)
	}()

	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	out := &syncBuffer{}
	c := newConsole(nc, out, logrus.NewEntry(logrus.StandardLogger()), false)
	done := make(chan struct{})
	go c.receive(done)

	expect := func(line, want string) {
		t.Helper()
		quit, err := c.execute(line)
		require.NoError(t, err)
		assert.False(t, quit)
		assert.Eventually(t, func() bool { return strings.Contains(out.String(), want) },
			time.Second, 5*time.Millisecond, "%q should print %q, got %q", line, want, out.String())
	}

	expect("qAttached", "<- 1\n")
	expect("monitor threads", "100  stopped\n")
	expect("ctrl-c", "<- %Stop:S05\n")
	expect("qOffsets", "<- (empty)\n")
	expect("QStartNoAckMode", "<- OK\n")
	assert.Eventually(t, func() bool { return !c.conn.Ack() }, time.Second, 5*time.Millisecond)

	quit, err := c.execute("quit")
	require.NoError(t, err)
	assert.True(t, quit)

	nc.Close()
	<-done
	<-stubDone
}
